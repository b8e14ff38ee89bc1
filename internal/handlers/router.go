package handlers

import (
	"net/http"

	"github.com/chartmaker/chartmaker/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every route. CORS wraps the whole router so preflight
// requests are answered before route matching.
func NewRouter(
	authHandlers *AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	allowedOrigins []string,
	logger *logrus.Logger,
) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", authHandlers.Register).Methods(http.MethodPost)
	auth.HandleFunc("/login", authHandlers.Login).Methods(http.MethodPost)
	auth.HandleFunc("/request-code", authHandlers.RequestCode).Methods(http.MethodPost)
	auth.HandleFunc("/verify-code", authHandlers.VerifyCode).Methods(http.MethodPost)
	auth.HandleFunc("/forgot-password", authHandlers.ForgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", authHandlers.ResetPassword).Methods(http.MethodPost)
	auth.Handle("/logout", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.Logout))).Methods(http.MethodPost)

	me := api.PathPrefix("/me").Subrouter()
	me.Use(authMiddleware.RequireAuth)
	me.HandleFunc("", authHandlers.Me).Methods(http.MethodGet)
	me.HandleFunc("/activity", authHandlers.MyActivity).Methods(http.MethodGet)

	return middleware.CORSMiddleware(allowedOrigins)(router)
}
