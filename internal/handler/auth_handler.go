// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/hcegateway/internal/auth"
	"github.com/hitoshi/hcegateway/internal/middleware"
	"github.com/hitoshi/hcegateway/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	Verify(token string) (*model.TokenClaims, error)
	Logout(ctx context.Context, claims *model.TokenClaims)
}

// AuthHandler はログイン・トークン検証・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type loginRequest struct {
	Usuario    string `json:"usuario"`
	Contrasena string `json:"contrasena"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Rol       string `json:"rol"`
	IDUsuario int64  `json:"id_usuario"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	IDUsuario int64  `json:"id_usuario"`
	Rol       string `json:"rol"`
	Exp       int64  `json:"exp"`
}

type messageResponse struct {
	Mensaje string `json:"mensaje"`
}

// Login はユーザー名とパスワードでログインし、セッショントークンを返す。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Usuario, req.Contrasena)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		Rol:       string(result.Role),
		IDUsuario: result.SubjectID,
	})
}

// Verify はトークンを検証し、クレームを返す。
// POST /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	claims, err := h.service.Verify(req.Token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		IDUsuario: claims.Subject,
		Rol:       string(claims.Role),
		Exp:       claims.ExpiresAt.Unix(),
	})
}

// Logout はステートレスなログアウトを受け付ける。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.ClaimsFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewTokenInvalidError())
		return
	}

	h.service.Logout(r.Context(), claims)
	writeJSON(w, http.StatusOK, messageResponse{Mensaje: "ログアウトしました"})
}
