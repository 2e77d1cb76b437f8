package routes

import (
	authapi "paper-showcase/internal/api/auth"
	"paper-showcase/internal/api/papers"
	"paper-showcase/internal/app/http/middleware"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Auth   *authapi.Handler
	Papers *papers.Handler
	Secret []byte
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// credentials are compared verbatim, never sanitised
	r.POST("/login", d.Auth.Login)

	guard := middleware.NewItemGuard()

	// Everyone
	site := r.Group("/papers/:id")
	site.Use(middleware.SessionMiddleware(d.Secret))
	site.GET("/details", guard.ReadMiddleware(), d.Papers.GetDetails)
	site.GET("/details/export", guard.ReadMiddleware(), d.Papers.ExportDetails)

	// Admin mode
	edit := site.Group("")
	edit.Use(middleware.RequireAdmin(), guard.Middleware())
	edit.PUT("/details", middleware.SanitizeAndCleanInputMiddleware(), d.Papers.UpdateText)
	edit.POST("/galleries/:gallery/images", d.Papers.UploadImages)
	edit.DELETE("/galleries/:gallery/images/:position", d.Papers.DeleteImage)
	edit.PUT("/galleries/:gallery/swap", d.Papers.SwapImages)
	edit.PUT("/galleries/:gallery/reorder", d.Papers.ReorderGallery)

	admin := r.Group("/admin")
	admin.Use(middleware.SessionMiddleware(d.Secret), middleware.RequireAdmin())
	admin.GET("/details/export", d.Papers.ExportAll)
}
