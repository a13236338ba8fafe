package controller

import (
	"context"
	"fmt"
	"net/mail"

	"chat-service/config"
	"chat-service/database"
	"chat-service/middleware"
	"chat-service/model"
	"chat-service/utils"

	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AuthSignupInput struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=64"`
}

type AuthLoginInput struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthRenewTokenInput struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type AuthOtpSecretInput struct {
	Password string `json:"password" validate:"required"`
}

type AuthOtpVerifyInput struct {
	Token string `json:"token" validate:"required"`
}

type AuthOtpValidateInput struct {
	Token string `json:"token" validate:"required"`
}

type AuthOtpDisableInput struct {
	Password string `json:"password" validate:"required"`
	Token    string `json:"token" validate:"required"`
}

// TokenStore remembers the refresh token last issued per user.
type TokenStore interface {
	Set(ctx context.Context, userID, token string) error
	Get(ctx context.Context, userID string) (string, error)
}

// Auth issues the JWT principal used by every other route and by the
// socket handshake.
type Auth struct {
	DB       *gorm.DB
	Tokens   TokenStore
	Enforcer *casbin.Enforcer
	// Cost is the bcrypt cost for new passwords.
	Cost int
}

func (a *Auth) cost() int {
	if a.Cost == 0 {
		return 14
	}
	return a.Cost
}

func (a *Auth) currentUser(c *fiber.Ctx) (*model.User, error) {
	userModel := new(model.User)
	err := a.DB.WithContext(c.UserContext()).Where("id = ?", middleware.UserID(c)).First(userModel).Error
	return userModel, err
}

func (a *Auth) issue(c *fiber.Ctx, id string, otp bool) (*utils.Tokens, error) {
	tokens, err := utils.GenerateTokens(id, otp)
	if err != nil {
		return nil, err
	}
	if err := a.Tokens.Set(c.UserContext(), id, tokens.Refresh); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (a *Auth) Signup(c *fiber.Ctx) error {
	input := new(AuthSignupInput)
	if err := parse(c, input); err != nil {
		return fail(c, err)
	}

	db := a.DB.WithContext(c.UserContext())

	// If existed email is found, return error
	if count := db.Where(&model.User{Email: input.Email}).Limit(1).Find(new([]model.User)).RowsAffected; count > 0 {
		return failure(c, fiber.StatusBadRequest, "Email is already registered")
	}

	// If existed username is found, return error
	if count := db.Where(&model.User{Username: input.Username}).Limit(1).Find(new([]model.User)).RowsAffected; count > 0 {
		return failure(c, fiber.StatusBadRequest, "Username is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), a.cost())
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      config.Config("OTP_ISSUER"),
		AccountName: input.Email,
		SecretSize:  15,
	})
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	user := &model.User{
		Username:   input.Username,
		Email:      input.Email,
		Password:   string(hash),
		Name:       input.Name,
		Role:       database.RoleUser,
		Otp_secret: key.Secret(),
	}
	if err := db.Create(user).Error; err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	if _, err := a.Enforcer.AddGroupingPolicy(user.ID, user.Role); err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	return success(c, fiber.Map{"id": user.ID})
}

func (a *Auth) Signin(c *fiber.Ctx) error {
	input := new(AuthLoginInput)
	if err := parse(c, input); err != nil {
		return fail(c, err)
	}

	db := a.DB.WithContext(c.UserContext())
	userModel := new(model.User)

	var err error
	if _, errParse := mail.ParseAddress(input.Login); errParse == nil {
		err = db.Where(&model.User{Email: input.Login}).First(userModel).Error
	} else {
		err = db.Where(&model.User{Username: input.Login}).First(userModel).Error
	}
	if err != nil || userModel.IsSystem {
		return failure(c, fiber.StatusUnauthorized, "Invalid login or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(userModel.Password), []byte(input.Password)); err != nil {
		return failure(c, fiber.StatusUnauthorized, "Invalid login or password")
	}

	tokens, err := a.issue(c, userModel.ID, userModel.Otp_enabled)
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	return success(c, fiber.Map{
		"access":  tokens.Access,
		"refresh": tokens.Refresh,
		"2fa":     userModel.Otp_enabled,
	})
}

func (a *Auth) TokenRenew(c *fiber.Ctx) error {
	renew := new(AuthRenewTokenInput)
	if err := parse(c, renew); err != nil {
		return fail(c, err)
	}

	claims, err := utils.CheckAndExtractTokenMetadata(renew.RefreshToken, "JWT_REFRESH_KEY")
	if err != nil {
		return failure(c, fiber.StatusUnauthorized, "Invalid token")
	}

	userToken, err := a.Tokens.Get(c.UserContext(), claims.Id)
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	if userToken != renew.RefreshToken {
		return failure(c, fiber.StatusUnauthorized, "Unauthorized, your refresh token was already used")
	}

	tokens, err := a.issue(c, claims.Id, claims.Otp)
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	return success(c, fiber.Map{
		"access":  tokens.Access,
		"refresh": tokens.Refresh,
		"2fa":     claims.Otp,
	})
}

func (a *Auth) OtpSecret(c *fiber.Ctx) error {
	secret := new(AuthOtpSecretInput)
	if err := parse(c, secret); err != nil {
		return fail(c, err)
	}

	userModel, err := a.currentUser(c)
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(userModel.Password), []byte(secret.Password)); err != nil {
		return failure(c, fiber.StatusUnauthorized, "Invalid password")
	}

	return success(c, fiber.Map{
		"secret": userModel.Otp_secret,
		"url": fmt.Sprintf("otpauth://totp/%s:%s?algorithm=SHA1&digits=6&issuer=%s&period=30&secret=%s",
			config.Config("OTP_ISSUER"),
			userModel.Email,
			config.Config("OTP_ISSUER"),
			userModel.Otp_secret,
		),
	})
}

func (a *Auth) OtpVerify(c *fiber.Ctx) error {
	verify := new(AuthOtpVerifyInput)
	if err := parse(c, verify); err != nil {
		return fail(c, err)
	}

	userModel, err := a.currentUser(c)
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	if userModel.Otp_enabled {
		return failure(c, fiber.StatusConflict, "Verification has already been performed earlier")
	}

	if !totp.Validate(verify.Token, userModel.Otp_secret) {
		return failure(c, fiber.StatusUnauthorized, "Invalid token")
	}

	if err := a.DB.WithContext(c.UserContext()).Model(userModel).Update("otp_enabled", true).Error; err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	return success(c, nil)
}

func (a *Auth) OtpValidate(c *fiber.Ctx) error {
	input := new(AuthOtpValidateInput)
	if err := parse(c, input); err != nil {
		return fail(c, err)
	}

	userModel, err := a.currentUser(c)
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	if !userModel.Otp_enabled {
		return failure(c, fiber.StatusBadRequest, "2FA has been disabled")
	}

	if !totp.Validate(input.Token, userModel.Otp_secret) {
		return failure(c, fiber.StatusUnauthorized, "Invalid token")
	}

	tokens, err := a.issue(c, userModel.ID, false)
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	return success(c, fiber.Map{
		"access":  tokens.Access,
		"refresh": tokens.Refresh,
	})
}

func (a *Auth) OtpDisable(c *fiber.Ctx) error {
	disable := new(AuthOtpDisableInput)
	if err := parse(c, disable); err != nil {
		return fail(c, err)
	}

	userModel, err := a.currentUser(c)
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	if !userModel.Otp_enabled {
		return failure(c, fiber.StatusBadRequest, "2fa not enabled")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(userModel.Password), []byte(disable.Password)); err != nil {
		return failure(c, fiber.StatusUnauthorized, "Invalid password")
	}

	if !totp.Validate(disable.Token, userModel.Otp_secret) {
		return failure(c, fiber.StatusUnauthorized, "Invalid token")
	}

	if err := a.DB.WithContext(c.UserContext()).Model(userModel).Update("otp_enabled", false).Error; err != nil {
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}

	return success(c, nil)
}
