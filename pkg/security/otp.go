package security

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTP parameters shared by enrolment and validation
const (
	otpPeriod     = 30
	otpSkew       = 1
	otpSecretSize = 15
)

// OTPService enrols and validates TOTP second factors
type OTPService struct {
	issuer string
	now    func() time.Time
}

// NewOTPService creates a TOTP service labelling keys with issuer
func NewOTPService(issuer string) *OTPService {
	return &OTPService{issuer: issuer, now: time.Now}
}

// Generate creates a new secret for account and its otpauth:// URI
func (s *OTPService) Generate(account string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: account,
		Period:      otpPeriod,
		SecretSize:  otpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Validate checks code against secret at the current time
func (s *OTPService) Validate(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), validateOpts())
	return err == nil && ok
}

// Code returns the current code for secret
func (s *OTPService) Code(secret string) (string, error) {
	return totp.GenerateCodeCustom(secret, s.now().UTC(), validateOpts())
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    otpPeriod,
		Skew:      otpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}
