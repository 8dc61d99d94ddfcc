package models

import "time"

// AuthMode is how the pipeline authenticates against a subscriber site
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthBasic  AuthMode = "basic"
	AuthBearer AuthMode = "bearer"
	AuthParams AuthMode = "params"
)

// Site is a registered subscriber that receives finished articles
type Site struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name" yaml:"name" validate:"required"`
	Endpoint      string    `json:"endpoint" yaml:"endpoint" validate:"required,url"`
	TermsEndpoint string    `json:"terms_endpoint,omitempty" yaml:"terms_endpoint" validate:"omitempty,url"`
	AuthMode      AuthMode  `json:"auth_mode" yaml:"auth_mode" validate:"omitempty,oneof=none basic bearer params"`
	Username      string    `json:"username,omitempty" yaml:"username"`
	Password      string    `json:"-" yaml:"password"`
	Token         string    `json:"-" yaml:"token"`
	TokenParam    string    `json:"token_param,omitempty" yaml:"token_param"`
	Active        bool      `json:"active" yaml:"active"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

// SiteTerms are the categories and tags a site already knows
type SiteTerms struct {
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
}
