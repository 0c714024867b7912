package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/cashstore/merchant-api/internal/models"
)

func newRBACRouter(claims *models.JWTClaims, roles ...models.MerchantRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if claims != nil {
		router.Use(func(c *gin.Context) {
			c.Set(ContextUserKey, claims)
		})
	}
	router.PUT("/cashback/:id/approve", RequireRoles(roles...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRequireRolesAllowsListedRole(t *testing.T) {
	router := newRBACRouter(&models.JWTClaims{MerchantID: "m-1", Role: models.RoleMerchant},
		models.RoleMerchant, models.RoleAdmin)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/cashback/cb-1/approve", nil)
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestRequireRolesRejectsStaff(t *testing.T) {
	router := newRBACRouter(&models.JWTClaims{MerchantID: "m-1", Role: models.RoleStaff},
		models.RoleMerchant, models.RoleAdmin)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/cashback/cb-1/approve", nil)
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestRequireRolesRejectsMissingClaims(t *testing.T) {
	router := newRBACRouter(nil, models.RoleMerchant)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/cashback/cb-1/approve", nil)
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}
