package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zeroai/gateway/internal/errs"
)

// statusForError maps the gateway's error taxonomy onto an HTTP status for
// the client-facing response, matching the status category the upstream
// itself would have used where one applies.
func statusForError(err error) (int, string) {
	ge, ok := errs.AsGatewayError(err)
	if !ok {
		return http.StatusInternalServerError, "server_error"
	}
	switch ge.Kind {
	case errs.KindAuthRequired:
		return http.StatusUnauthorized, "authentication_error"
	case errs.KindRateLimited:
		return http.StatusTooManyRequests, "rate_limit_error"
	case errs.KindNotFound:
		return http.StatusNotFound, "invalid_request_error"
	case errs.KindHTTPUpstream:
		if ge.Status >= 400 && ge.Status < 600 {
			return ge.Status, "upstream_error"
		}
		return http.StatusBadGateway, "upstream_error"
	case errs.KindNetwork:
		return http.StatusBadGateway, "network_error"
	case errs.KindParse:
		return http.StatusBadGateway, "parse_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func writeError(c *gin.Context, err error) {
	status, typ := statusForError(err)
	c.JSON(status, errorBody(err.Error(), typ))
}
