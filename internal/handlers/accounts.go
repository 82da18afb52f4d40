package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/transacta/paymentid/internal/accounts"
	"github.com/transacta/paymentid/internal/auth"
	"github.com/transacta/paymentid/internal/media"
	"github.com/transacta/paymentid/internal/transactions"
	"github.com/transacta/paymentid/internal/validation"
)

func (a *api) registerProfileRoutes(r *gin.RouterGroup) {
	r.GET("/profile", a.getProfile)
	r.PUT("/profile", a.updateProfile)
	r.POST("/profile/photo", a.uploadProfilePhoto)
}

func (a *api) registerSuperAdminRoutes(r *gin.RouterGroup) {
	r.GET("/transactions", a.listTransactions)
	r.GET("/transactions/:orderId/ledger", a.listLedger)
	r.GET("/accounts", a.listAccounts)
	r.PUT("/accounts/:uid/role", a.setAccountRole)
	r.DELETE("/accounts/:uid", a.deleteAccount)
}

func (a *api) getProfile(c *gin.Context) {
	acct, err := a.accounts.Get(c.Request.Context(), auth.UIDFrom(c))
	if err != nil {
		a.fail(c, err, "Failed to load profile")
		return
	}
	if acct == nil {
		respondError(c, http.StatusNotFound, "Account not found")
		return
	}
	respond(c, http.StatusOK, accounts.WelcomeMessage(acct.Role, acct.DisplayName), gin.H{
		"account":      acct,
		"dashboardUrl": accounts.GetDashboardURL(acct.Role),
	})
}

func (a *api) updateProfile(c *gin.Context) {
	var req validation.ProfileRequest
	if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
		return
	}
	err := a.accounts.UpdateProfile(c.Request.Context(), auth.UIDFrom(c), accounts.Profile{
		DisplayName: req.DisplayName,
		PhoneNumber: req.PhoneNumber,
		PhotoURL:    req.PhotoURL,
	})
	if err != nil {
		a.fail(c, err, "Failed to update profile")
		return
	}
	respond(c, http.StatusOK, "Profile updated", nil)
}

func (a *api) uploadProfilePhoto(c *gin.Context) {
	url, ok := a.upload(c, media.FolderProfileImages)
	if !ok {
		return
	}
	if err := a.accounts.SetPhoto(c.Request.Context(), auth.UIDFrom(c), url); err != nil {
		a.fail(c, err, "Failed to update profile photo")
		return
	}
	respond(c, http.StatusOK, "Profile photo updated", gin.H{"url": url})
}

func (a *api) listTransactions(c *gin.Context) {
	filter := c.DefaultQuery("status", transactions.FilterAll)
	list, err := a.transactions.List(c.Request.Context(), filter)
	if err != nil {
		a.fail(c, err, "Failed to load transactions")
		return
	}
	respond(c, http.StatusOK, "Transactions retrieved", list)
}

func (a *api) listLedger(c *gin.Context) {
	entries, err := a.ledger.ListByOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		a.fail(c, err, "Failed to load ledger")
		return
	}
	respond(c, http.StatusOK, "Ledger retrieved", entries)
}

func (a *api) listAccounts(c *gin.Context) {
	list, err := a.accounts.List(c.Request.Context())
	if err != nil {
		a.fail(c, err, "Failed to load accounts")
		return
	}
	respond(c, http.StatusOK, "Accounts retrieved", list)
}

func (a *api) setAccountRole(c *gin.Context) {
	var req validation.RoleRequest
	if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
		return
	}
	uid := c.Param("uid")
	if uid == auth.UIDFrom(c) {
		respondError(c, http.StatusBadRequest, "You cannot change your own role")
		return
	}
	if err := a.accounts.SetRole(c.Request.Context(), uid, accounts.Role(req.Role)); err != nil {
		a.fail(c, err, "Failed to update role")
		return
	}
	respond(c, http.StatusOK, "Role updated", nil)
}

func (a *api) deleteAccount(c *gin.Context) {
	uid := c.Param("uid")
	if uid == auth.UIDFrom(c) {
		respondError(c, http.StatusBadRequest, "You cannot delete your own account")
		return
	}
	if err := a.accounts.Delete(c.Request.Context(), uid); err != nil {
		a.fail(c, err, "Failed to delete account")
		return
	}
	respond(c, http.StatusOK, "Account deleted", nil)
}
