package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/webdav-provider/internal/models"
)

// JWTClaims JWT令牌声明
type JWTClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service 认证服务
//
// 用户表驻留内存；DAV客户端走Basic认证逐请求校验，
// API客户端登录换取Bearer令牌。
type Service struct {
	mu          sync.RWMutex
	users       map[string]*models.User // username -> user
	jwtSecret   []byte
	tokenExpiry time.Duration
}

// NewService 创建认证服务
func NewService(jwtSecret string, tokenExpiry time.Duration) *Service {
	return &Service{
		users:       make(map[string]*models.User),
		jwtSecret:   []byte(jwtSecret),
		tokenExpiry: tokenExpiry,
	}
}

// AddUser 注册用户，密码以bcrypt散列保存
func (s *Service) AddUser(username, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return nil, ErrUserExists
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	s.users[username] = user
	return user, nil
}

// ValidateUser 验证用户凭据
func (s *Service) ValidateUser(username, password string) (*models.User, error) {
	s.mu.RLock()
	user, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login 验证凭据并签发令牌
func (s *Service) Login(username, password string) (string, *models.User, error) {
	user, err := s.ValidateUser(username, password)
	if err != nil {
		return "", nil, err
	}
	token, err := s.GenerateToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// GenerateToken 生成JWT令牌
func (s *Service) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken 校验JWT令牌并返回声明
func (s *Service) ValidateToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// 错误定义
var (
	ErrInvalidCredentials = Error("invalid username or password")
	ErrInvalidToken       = Error("invalid or expired token")
	ErrUserExists         = Error("user already exists")
)

type Error string

func (e Error) Error() string {
	return string(e)
}
