package server

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"llamagate/internal/models"
	"llamagate/internal/translate"
)

// streamResponse pumps a live upstream envelope to the client, translated
// frame by frame into the requesting protocol's streaming shape. The
// translator owns the upstream body and closes it on every exit path; a
// client disconnect cancels the request context, which tears the upstream
// read down with it.
func (s *Server) streamResponse(c echo.Context, env *models.Envelope, target translate.Target, model string) error {
	resp := c.Response()
	header := resp.Header()

	if target == translate.TargetOpenAI {
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
	} else {
		header.Set("Content-Type", "application/x-ndjson")
	}
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	tr := translate.NewStreamTranslator(target, model, slog.Default())
	if err := tr.Run(env.Stream, resp, func() { resp.Flush() }); err != nil {
		// Headers are already on the wire; all that is left is to log and
		// let the connection close.
		slog.Warn("stream translation aborted", "model", model, "error", err)
	}
	return nil
}
