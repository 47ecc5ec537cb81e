package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	app "github.com/credsettle/portal-go/cmd/api/app"
)

// Role values stored on users.role.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// AuthUser represents the authenticated user.
type AuthUser struct {
	ID          string `json:"id"`
	ExternalID  string `json:"external_id,omitempty"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// IsAdmin reports whether the user holds the admin role.
func (u AuthUser) IsAdmin() bool { return u.Role == RoleAdmin }

// CurrentUser extracts the authenticated user from the request context.
func CurrentUser(c *gin.Context) (AuthUser, bool) {
	v, ok := c.Get("user")
	if !ok {
		return AuthUser{}, false
	}
	u, ok := v.(AuthUser)
	return u, ok
}

// Middleware resolves the session and stores an AuthUser in the context.
// No protected handler runs before this completes.
func Middleware(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.TestBypassAuth {
			id := c.GetHeader("X-Test-User")
			if id == "" {
				id = "test-user"
			}
			role := c.GetHeader("X-Test-Role")
			if role == "" {
				role = RoleAdmin
			}
			c.Set("user", AuthUser{
				ID:          id,
				Email:       "test@example.com",
				DisplayName: "Test User",
				Role:        role,
			})
			c.Next()
			return
		}

		if a.Cfg.AuthMode == "local" {
			localAuth(a, c)
			return
		}
		oidcAuth(a, c)
	}
}

func localAuth(a *app.App, c *gin.Context) {
	tokenStr, err := c.Cookie("auth")
	if err != nil || tokenStr == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(a.Cfg.AuthLocalSecret), nil
	})
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
		return
	}
	uid, _ := claims["sub"].(string)
	ctx := c.Request.Context()
	var u AuthUser
	err = a.DB.QueryRow(ctx, `select id::text, coalesce(email,''), coalesce(display_name,''), role from users where id=$1`, uid).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}
	c.Set("user", u)
	c.Next()
}

func oidcAuth(a *app.App, c *gin.Context) {
	if a.Keyf == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "jwks not configured"})
		return
	}
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")
	token, err := jwt.Parse(tokenStr, a.Keyf)
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
		return
	}
	if iss, ok := claims["iss"].(string); ok && a.Cfg.OIDCIssuer != "" && iss != a.Cfg.OIDCIssuer {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid issuer"})
		return
	}
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	ctx := c.Request.Context()
	var u AuthUser
	err = a.DB.QueryRow(ctx, `select id::text, coalesce(email,''), coalesce(display_name,''), role from users where external_id=$1`, sub).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// First sighting of this subject; provision a regular user row.
			err = a.DB.QueryRow(ctx, `insert into users (external_id, email, display_name, role) values ($1, $2, $3, $4) returning id::text`,
				sub, email, name, RoleUser).Scan(&u.ID)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user create"})
				return
			}
			u.Email = email
			u.DisplayName = name
			u.Role = RoleUser
		} else {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user lookup"})
			return
		}
	}
	u.ExternalID = sub
	c.Set("user", u)
	c.Next()
}

// RequireAdmin rejects requests from non-admin users.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if !u.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Me returns the authenticated user.
func Me(c *gin.Context) {
	u, ok := CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, u)
}

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login issues a session cookie for local auth users.
func Login(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.AuthMode != "local" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "login disabled"})
			return
		}
		var in loginReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
			return
		}
		ctx := c.Request.Context()
		var id, hash, email, displayName string
		err := a.DB.QueryRow(ctx, `select id::text, coalesce(password_hash,''), coalesce(email,''), coalesce(display_name,'') from users where lower(username)=lower($1)`, in.Username).
			Scan(&id, &hash, &email, &displayName)
		if err != nil || id == "" || hash == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		claims := jwt.MapClaims{
			"sub":   id,
			"name":  displayName,
			"email": email,
			"iat":   time.Now().Unix(),
			"exp":   time.Now().Add(24 * time.Hour).Unix(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		s, err := token.SignedString([]byte(a.Cfg.AuthLocalSecret))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token"})
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie("auth", s, 86400, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// Logout clears the session cookie.
func Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie("auth", "", -1, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
