package services

import (
	"errors"
	"fmt"
	"time"

	"medlink/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AuthService is the identity collaborator: it supplies a stable
// {participant_id, role} pair, scoped to one appointment, before the
// negotiation state machine starts.
type AuthService interface {
	IssueConsultToken(participantID domain.ParticipantID, role domain.Role, callID domain.CallID) (string, error)
	ValidateToken(tokenString string) (*ConsultClaims, error)
}

// ConsultClaims are the JWT claims carried by a consult token.
type ConsultClaims struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	Role          domain.Role          `json:"role"`
	CallID        domain.CallID        `json:"call_id"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *authService) IssueConsultToken(participantID domain.ParticipantID, role domain.Role, callID domain.CallID) (string, error) {
	if !role.Valid() {
		return "", domain.ErrInvalidRole
	}

	claims := &ConsultClaims{
		ParticipantID: participantID,
		Role:          role,
		CallID:        callID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*ConsultClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ConsultClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*ConsultClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.Role.Valid() {
		return nil, domain.ErrInvalidRole
	}
	return claims, nil
}
