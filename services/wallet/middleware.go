package main

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// Chaves do contexto gin preenchidas pelo AuthMiddleware
const (
	ctxWalletID = "walletID"
	ctxUserID   = "userID"
	ctxSlug     = "slug"
	ctxRole     = "role"
)

const RoleAdmin = "admin"

// WalletClaims são as claims do token emitido pelo serviço de autenticação
type WalletClaims struct {
	WalletID string `json:"wallet_id"`
	UserID   string `json:"user_id"`
	Slug     string `json:"slug"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken assina um token HS256 (usado em testes e ferramentas internas)
func GenerateToken(secret string, claims WalletClaims, ttl time.Duration) (string, error) {
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken verifica assinatura, algoritmo e expiração
func ValidateToken(secret, encoded string) (*WalletClaims, error) {
	claims := &WalletClaims{}
	token, err := jwt.ParseWithClaims(encoded, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// AuthMiddleware exige "Authorization: Bearer <token>" e publica as claims no contexto
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token ausente"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "formato de token inválido"})
			return
		}

		claims, err := ValidateToken(secret, strings.TrimSpace(parts[1]))
		if err != nil {
			log.Printf("⚠️ [AUTH] Token rejeitado | IP=%s | Error=%v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token inválido"})
			return
		}

		c.Set(ctxWalletID, claims.WalletID)
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxSlug, claims.Slug)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// AdminOnly libera apenas tokens com role admin
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "acesso negado"})
			return
		}
		c.Next()
	}
}

// IPRateLimiter mantém um limiter por IP
type IPRateLimiter struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	r           rate.Limit
	b           int
	idleTimeout time.Duration
	lastCleanup time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		visitors:    make(map[string]*visitor),
		r:           r,
		b:           b,
		idleTimeout: 3 * time.Minute,
		lastCleanup: time.Now(),
	}
}

// GetLimiter retorna o limiter do IP, removendo IPs inativos a cada minuto
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now()
	if now.Sub(i.lastCleanup) > time.Minute {
		for key, v := range i.visitors {
			if now.Sub(v.lastSeen) > i.idleTimeout {
				delete(i.visitors, key)
			}
		}
		i.lastCleanup = now
	}

	v, exists := i.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(i.r, i.b)}
		i.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// RateLimitMiddleware responde 429 quando o IP excede a taxa configurada
func RateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "muitas requisições"})
			return
		}
		c.Next()
	}
}
