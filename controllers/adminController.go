package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator"
	log "github.com/sirupsen/logrus"

	"go-restaurant-orderhub/helpers"
	"go-restaurant-orderhub/models"
)

var validate = validator.New()

// AdminController guards the dashboard behind a shared PIN.
type AdminController struct {
	issuer  *helpers.TokenIssuer
	pinHash string
}

// NewAdminController takes either a bcrypt hash of the PIN or the plain
// PIN, which is hashed once here.
func NewAdminController(issuer *helpers.TokenIssuer, pin, pinHash string) (*AdminController, error) {
	if pinHash == "" {
		h, err := helpers.HashPin(pin)
		if err != nil {
			return nil, err
		}
		pinHash = h
	}
	return &AdminController{issuer: issuer, pinHash: pinHash}, nil
}

func (ac *AdminController) Login() gin.HandlerFunc {
	return func(c *gin.Context) {
		var login models.AdminLogin
		if err := c.ShouldBindJSON(&login); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validate.Struct(&login); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pin must be 4 to 32 characters"})
			return
		}
		if !helpers.VerifyPin(login.Pin, ac.pinHash) {
			log.WithField("remote", c.ClientIP()).Warn("admin login with wrong pin")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "pin is incorrect"})
			return
		}
		token, expiresAt, err := ac.issuer.GenerateAdminToken("admin")
		if err != nil {
			log.WithError(err).Error("sign admin token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, models.AdminToken{Token: token, ExpiresAt: expiresAt})
	}
}
