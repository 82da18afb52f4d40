package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/transacta/paymentid/internal/auth"
	"github.com/transacta/paymentid/internal/contacts"
	"github.com/transacta/paymentid/internal/media"
	"github.com/transacta/paymentid/internal/products"
	"github.com/transacta/paymentid/internal/validation"
)

func (a *api) registerAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/payments", a.listPayments)
	r.POST("/admin/payments", a.createPayment)
	r.POST("/admin/payments/thumbnail", a.uploadThumbnail)
	r.GET("/admin/payments/:id", a.getPaymentByID)
	r.PUT("/admin/payments/:id", a.updatePayment)
	r.DELETE("/admin/payments/:id", a.deletePayment)

	r.GET("/admin/contacts", a.listContacts)
	r.PATCH("/admin/contacts/:id/read", a.markContactRead)
	r.DELETE("/admin/contacts/:id", a.deleteContact)
}

func (a *api) listPayments(c *gin.Context) {
	list, err := a.products.List(c.Request.Context())
	if err != nil {
		a.fail(c, err, "Failed to load payments")
		return
	}
	page, size := pageParams(c)
	q := products.Query{
		Search:   c.Query("search"),
		Status:   c.Query("status"),
		Sort:     c.Query("sort"),
		Page:     page,
		PageSize: size,
	}
	respond(c, http.StatusOK, "Payments retrieved", q.Apply(list, a.nowFunc()))
}

func (a *api) getPaymentByID(c *gin.Context) {
	p, err := a.products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err, "Failed to load payment")
		return
	}
	if p == nil {
		respondError(c, http.StatusNotFound, "Payment not found")
		return
	}
	respond(c, http.StatusOK, "Payment retrieved", p)
}

func applyProductRequest(p *products.Product, req validation.ProductRequest) {
	p.Title = strings.TrimSpace(req.Title)
	p.Slug = products.Slugify(req.Slug)
	if p.Slug == "" {
		p.Slug = products.Slugify(req.Title)
	}
	p.PriceIDR = req.PriceIDR
	p.PriceUSD = products.USD{Decimal: req.PriceUSD}
	p.Date = req.Date.UTC()
	p.ExpiryDays = req.ExpiryDays
	p.IsPublished = req.IsPublished
	p.Thumbnail = req.Thumbnail
	p.Description = req.Description
}

func (a *api) createPayment(c *gin.Context) {
	var req validation.ProductRequest
	if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
		return
	}
	ctx := c.Request.Context()

	p := &products.Product{ID: uuid.NewString()}
	applyProductRequest(p, req)
	if p.Slug == "" {
		respondError(c, http.StatusBadRequest, "Title must contain letters or digits")
		return
	}

	author, err := a.accounts.Get(ctx, auth.UIDFrom(c))
	if err != nil {
		a.fail(c, err, "Failed to create payment")
		return
	}
	if author != nil {
		p.Author = products.Author{
			DisplayName: author.DisplayName,
			Role:        string(author.Role),
			PhotoURL:    author.PhotoURL,
		}
	}

	if err := a.products.Create(ctx, p); err != nil {
		a.fail(c, err, "Failed to create payment")
		return
	}
	respond(c, http.StatusCreated, "Payment created", p)
}

func (a *api) updatePayment(c *gin.Context) {
	var req validation.ProductRequest
	if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
		return
	}
	ctx := c.Request.Context()

	p, err := a.products.Get(ctx, c.Param("id"))
	if err != nil {
		a.fail(c, err, "Failed to update payment")
		return
	}
	if p == nil {
		respondError(c, http.StatusNotFound, "Payment not found")
		return
	}
	applyProductRequest(p, req)
	if err := a.products.Update(ctx, p); err != nil {
		a.fail(c, err, "Failed to update payment")
		return
	}
	respond(c, http.StatusOK, "Payment updated", p)
}

func (a *api) deletePayment(c *gin.Context) {
	if err := a.products.Delete(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err, "Failed to delete payment")
		return
	}
	respond(c, http.StatusOK, "Payment deleted", nil)
}

// upload stores the multipart "file" field under folder.
func (a *api) upload(c *gin.Context, folder string) (string, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "Missing file")
		return "", false
	}
	if fh.Size > media.MaxUploadBytes {
		respondError(c, http.StatusRequestEntityTooLarge, "Image is too large")
		return "", false
	}
	f, err := fh.Open()
	if err != nil {
		a.fail(c, err, "Failed to read upload")
		return "", false
	}
	defer f.Close()

	url, err := a.media.Upload(c.Request.Context(), folder, fh.Filename, f)
	if err != nil {
		a.fail(c, err, "Failed to upload image")
		return "", false
	}
	return url, true
}

func (a *api) uploadThumbnail(c *gin.Context) {
	url, ok := a.upload(c, media.FolderPayments)
	if !ok {
		return
	}
	respond(c, http.StatusCreated, "Thumbnail uploaded", gin.H{"url": url})
}

func (a *api) listContacts(c *gin.Context) {
	list, err := a.contacts.List(c.Request.Context())
	if err != nil {
		a.fail(c, err, "Failed to load contacts")
		return
	}
	page, size := pageParams(c)
	q := contacts.Query{
		Search:   c.Query("search"),
		Unread:   c.Query("unread") == "true",
		Page:     page,
		PageSize: size,
	}
	respond(c, http.StatusOK, "Contacts retrieved", q.Apply(list))
}

func (a *api) markContactRead(c *gin.Context) {
	if err := a.contacts.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err, "Failed to update contact")
		return
	}
	respond(c, http.StatusOK, "Contact marked as read", nil)
}

func (a *api) deleteContact(c *gin.Context) {
	if err := a.contacts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err, "Failed to delete contact")
		return
	}
	respond(c, http.StatusOK, "Contact deleted", nil)
}
