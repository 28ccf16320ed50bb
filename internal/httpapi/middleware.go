package httpapi

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nudge/internal/auth"
	"nudge/internal/session"
	logx "nudge/pkg/logx"
)

type ctxKey int

const sessionKey ctxKey = iota

func recoverer(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("handler panicked",
						logx.String("request_id", middleware.GetReqID(r.Context())),
						logx.Any("panic", rec),
						logx.String("stack", string(debug.Stack())))
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("request_id", middleware.GetReqID(r.Context())),
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)))
		})
	}
}

// requireUser admits a request when its bearer token's subject is the
// {userID} in the path. A nil tokens service admits everything.
func requireUser(tokens *auth.Tokens, log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokens == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			subject, err := tokens.Verify(raw)
			if err != nil {
				log.Debug("token rejected", logx.String("request_id", middleware.GetReqID(r.Context())), logx.Err(err))
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if subject != chi.URLParam(r, "userID") {
				writeError(w, http.StatusUnauthorized, "token does not match user")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.dir.Get(chi.URLParam(r, "userID"))
		if !ok {
			writeError(w, http.StatusNotFound, "unknown user")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}
