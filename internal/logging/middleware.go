package logging

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"
)

// Middleware gives every huma operation its own LogData and logs
// Handler.<operation>.Start/Error/Complete around it.
func Middleware(log *logrus.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		name := "unknown"
		if op := ctx.Operation(); op != nil {
			name = op.OperationID
		}

		logData := NewLogData(log)
		logData.AddData("method", ctx.Method())
		logData.AddData("path", ctx.URL().Path)
		if caller := ctx.Header("X-Caller-ID"); caller != "" {
			logData.AddData("callerID", caller)
		}

		log.Infof("Handler.%v.Start", name)
		endTimer := logData.AddTiming("duration")

		next(huma.WithContext(ctx, WithLogData(ctx.Context(), logData)))

		endTimer()
		status := ctx.Status()
		logData.AddData("status", status)
		if status >= http.StatusInternalServerError {
			logData.Log().Errorf("Handler.%v.Error", name)
			return
		}
		logData.Log().Infof("Handler.%v.Complete", name)
	}
}
