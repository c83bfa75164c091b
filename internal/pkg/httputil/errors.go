package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/homa-clinic/booking/internal/pkg/ctxlog"
	"github.com/homa-clinic/booking/internal/pkg/validation"
)

// ErrorMapping ties a sentinel error to a status code. An empty Message
// sends the sentinel's own text.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

func (m ErrorMapping) message() string {
	if m.Message != "" {
		return m.Message
	}
	return m.Error.Error()
}

// HandleError writes the response for err. Validation failures become 400
// with per-field details. Errors matching no mapping are logged and
// answered with a bare 500 so internals never reach the client.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	if errors.Is(err, validation.ErrInvalid) {
		ValidationError(w, err)
		return
	}

	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			ctxlog.FromContext(ctx).Debug("request rejected", "status", m.Status, "error", err)
			Error(w, m.Status, m.message())
			return
		}
	}

	ctxlog.FromContext(ctx).Error("unhandled error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
