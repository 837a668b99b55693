package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/david/volunteer-match/internal/models"
)

var (
	ErrUserExists    = errors.New("user already exists")
	ErrInvalidCreds  = errors.New("invalid credentials")
	ErrInvalidSignup = errors.New("invalid signup request")
)

const (
	tokenTTL          = 24 * time.Hour
	minPasswordLength = 8
)

type SignupRequest struct {
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Password     string   `json:"password"`
	City         string   `json:"city"`
	Country      string   `json:"country"`
	Interests    []string `json:"interests"`
	Skills       []string `json:"skills"`
	Availability []string `json:"availability"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string           `json:"token"`
	Volunteer models.Volunteer `json:"volunteer"`
}

type Service struct {
	db     *pgxpool.Pool
	secret []byte
	log    *zap.Logger
	now    func() time.Time
}

// NewService builds the volunteer account service. An empty secret is
// replaced with a random in-memory one, so tokens do not survive restarts.
func NewService(db *pgxpool.Pool, secret string, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	key := []byte(strings.TrimSpace(secret))
	if len(key) == 0 {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate JWT fallback secret: %w", err)
		}
		key = []byte(base64.RawURLEncoding.EncodeToString(buf))
		logger.Warn("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	}

	return &Service{db: db, secret: key, log: logger, now: time.Now}, nil
}

func normalizeSignup(req SignupRequest) (SignupRequest, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	req.City = strings.TrimSpace(req.City)
	req.Country = strings.TrimSpace(req.Country)

	if _, err := mail.ParseAddress(req.Email); err != nil {
		return req, fmt.Errorf("%w: email is not valid", ErrInvalidSignup)
	}
	if len(req.Password) < minPasswordLength {
		return req, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidSignup, minPasswordLength)
	}

	req.Interests = trimAll(req.Interests)
	req.Skills = trimAll(req.Skills)
	req.Availability = trimAll(req.Availability)
	return req, nil
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	req, err := normalizeSignup(req)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}

	v := models.Volunteer{
		Name:         req.Name,
		Email:        req.Email,
		Location:     models.Location{City: req.City, Country: req.Country},
		Interests:    req.Interests,
		Skills:       req.Skills,
		Availability: req.Availability,
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO volunteers (name, email, password_hash, city, country, interests, skills, availability)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		RETURNING id, created_at
	`, v.Name, v.Email, string(hash), v.Location.City, v.Location.Country,
		v.Interests, v.Skills, v.Availability).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert failed: %w", err)
	}

	token, err := s.GenerateToken(v.ID)
	if err != nil {
		return nil, err
	}

	s.log.Info("volunteer signed up", zap.String("volunteer_id", v.ID.String()))
	return &AuthResponse{Token: token, Volunteer: v}, nil
}

const loginSQL = `
	SELECT id, name, email, password_hash, city, country, interests, skills, availability, created_at
	FROM volunteers
	WHERE email = $1`

// scanLogin reads a loginSQL row into the same profile Signup returns, plus
// the stored password hash.
func scanLogin(scan func(dest ...interface{}) error) (models.Volunteer, string, error) {
	var v models.Volunteer
	var hash string
	var city, country *string

	err := scan(&v.ID, &v.Name, &v.Email, &hash, &city, &country,
		&v.Interests, &v.Skills, &v.Availability, &v.CreatedAt)
	if err != nil {
		return v, "", err
	}
	if city != nil {
		v.Location.City = *city
	}
	if country != nil {
		v.Location.Country = *country
	}
	return v, hash, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	v, hash, err := scanLogin(s.db.QueryRow(ctx, loginSQL, strings.ToLower(strings.TrimSpace(req.Email))).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCreds
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCreds
	}

	token, err := s.GenerateToken(v.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, Volunteer: v}, nil
}

// GenerateToken issues an HS256 token whose subject is the volunteer ID.
func (s *Service) GenerateToken(volunteerID uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   volunteerID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseToken validates a token and returns the volunteer ID it was issued for.
func (s *Service) ParseToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return uuid.Nil, errors.New("invalid or expired token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, errors.New("invalid token subject")
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, errors.New("invalid volunteer ID in token")
	}
	return id, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
