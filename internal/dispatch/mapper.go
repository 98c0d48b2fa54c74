// Package dispatch implements the request routing core: resolving a full
// model id to a provider and account, invoking the matching provider
// adapter, and retrying across accounts on transient failure.
package dispatch

import "strings"

// SplitModelID splits a full model id ("openai/gpt-4o") into its provider
// and short model id on the first slash. Either half being empty rejects.
// A custom:<baseURL> provider id embeds a URL scheme, so the split skips
// past "://" before looking for the separating slash.
func SplitModelID(fullModelID string) (providerID, modelID string, ok bool) {
	offset := 0
	if strings.HasPrefix(fullModelID, "custom:") {
		if idx := strings.Index(fullModelID, "://"); idx >= 0 {
			offset = idx + len("://")
		}
	}
	idx := strings.IndexByte(fullModelID[offset:], '/')
	if idx < 0 {
		return "", "", false
	}
	idx += offset
	if idx == 0 || idx == len(fullModelID)-1 {
		return "", "", false
	}
	return fullModelID[:idx], fullModelID[idx+1:], true
}

// JoinModelID joins a provider id and short model id back into a full
// model id.
func JoinModelID(providerID, modelID string) string {
	return providerID + "/" + modelID
}
