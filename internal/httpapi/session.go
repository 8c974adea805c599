package httpapi

import (
	"net/http"
	"slices"
	"strings"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

type sessionUser struct {
	user  ledger.User
	roles []string
	admin bool
}

// resolveSession upserts the local user behind the validated session.
func (handler *httpHandler) resolveSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil || strings.TrimSpace(claims.GetUserID()) == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	user, err := handler.identity.EnsureUser(ctx.Request.Context(), claims.GetUserID(), claims.GetUserEmail())
	if err != nil {
		handler.logger.Error("session user resolution failed", zap.String("subject", claims.GetUserID()), zap.Error(err))
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse("internal_error", "user resolution failed"))
		return
	}
	roles := claims.GetUserRoles()
	ctx.Set(sessionContextKey, &sessionUser{
		user:  user,
		roles: roles,
		admin: slices.Contains(roles, handler.cfg.AdminRole),
	})
	ctx.Next()
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	session := getSession(ctx)
	ctx.JSON(http.StatusOK, gin.H{
		"userId":     session.user.ID,
		"externalId": session.user.ExternalID,
		"email":      session.user.Email,
		"roles":      session.roles,
		"admin":      session.admin,
	})
}

// authorizeUser resolves the :userId path parameter and enforces that callers only act on themselves.
func (handler *httpHandler) authorizeUser(ctx *gin.Context) (ledger.CustomerRef, bool) {
	return handler.authorizeRef(ctx, ctx.Param("userId"))
}

func (handler *httpHandler) authorizeRef(ctx *gin.Context, raw string) (ledger.CustomerRef, bool) {
	ref, err := ledger.NewCustomerRef(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
		return ledger.CustomerRef{}, false
	}
	session := getSession(ctx)
	if session.admin || ref.String() == session.user.ID || ref.String() == session.user.ExternalID {
		return ref, true
	}
	ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "cannot act on another user"))
	return ledger.CustomerRef{}, false
}

func (handler *httpHandler) requireAdmin(ctx *gin.Context) bool {
	if getSession(ctx).admin {
		return true
	}
	ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
	return false
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func getSession(ctx *gin.Context) *sessionUser {
	value, ok := ctx.Get(sessionContextKey)
	if !ok {
		return &sessionUser{}
	}
	session, _ := value.(*sessionUser)
	if session == nil {
		return &sessionUser{}
	}
	return session
}

func selfRef(ctx *gin.Context) (ledger.CustomerRef, error) {
	return ledger.NewCustomerRef(getSession(ctx).user.ID)
}
