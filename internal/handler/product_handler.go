package handler

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"catalog-service/internal/imagestore"
	"catalog-service/internal/model"
	"catalog-service/pkg/database"
	"catalog-service/pkg/logger"
	"catalog-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize   = 2
	defaultPageNumber = 1
)

// Columns the list endpoint is allowed to sort by. Unknown sortType values
// are ignored rather than rejected.
var sortColumns = map[string]string{
	"Name":        "name",
	"Description": "description",
}

// productForm holds the multipart form fields for product creation/update.
// Image is nil when no file part was sent.
type productForm struct {
	ID             uint
	Name           string
	Description    string
	ProductionDate time.Time
	CategoryID     uint
	Image          *multipart.FileHeader
}

// fieldErrors maps a field or rule key to its validation messages
type fieldErrors map[string][]string

func (fe fieldErrors) add(key, msg string) {
	fe[key] = append(fe[key], msg)
}

func bindProductForm(c echo.Context) (*productForm, error) {
	form := &productForm{
		Name:        c.FormValue("name"),
		Description: c.FormValue("description"),
	}

	if v := c.FormValue("id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", v, err)
		}
		form.ID = uint(id)
	}

	if v := c.FormValue("categoryId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid categoryId %q: %w", v, err)
		}
		form.CategoryID = uint(id)
	}

	if v := c.FormValue("productionDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			t, err = time.Parse("2006-01-02", v)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid productionDate %q: %w", v, err)
		}
		form.ProductionDate = t
	}

	// A missing file part is a valid request, not a bind failure
	if file, err := c.FormFile("imageFile"); err == nil {
		form.Image = file
	}

	return form, nil
}

// validateProductForm applies the image, field and business rules in order.
// excludeID carries the product's own id on update so the duplicate-name
// check skips it.
func validateProductForm(form *productForm, excludeID uint) fieldErrors {
	errs := fieldErrors{}

	if form.Image != nil {
		if err := imagestore.Get().Validate(form.Image); err != nil {
			errs.add("ImageFile", err.Error())
		}
	}

	name := strings.TrimSpace(form.Name)
	switch {
	case name == "":
		errs.add("Name", "name is required")
	case utf8.RuneCountInString(form.Name) < 2:
		errs.add("Name", "name must not be less than 2 chars")
	case utf8.RuneCountInString(form.Name) > 20:
		errs.add("Name", "name must not exceed 20 chars")
	}

	if strings.TrimSpace(form.Description) == "" {
		errs.add("Description", "description is required")
	}

	if form.ProductionDate.IsZero() {
		errs.add("ProductionDate", "productionDate is required")
	}

	if name != "" && name == strings.TrimSpace(form.Description) {
		errs.add("NameAndDescriptionMatch", "Name and Description must not match")
	}

	var count int64
	query := database.GetDB().Model(&model.Product{}).Where("name = ?", form.Name)
	if excludeID != 0 {
		query = query.Where("id != ?", excludeID)
	}
	query.Count(&count)
	if count > 0 {
		errs.add("DuplicateName", "The product name already exists")
	}

	return errs
}

// isDuplicateNameErr reports whether a write failed on the products.name
// unique index. The pre-check in validateProductForm races with concurrent
// writes; the index is the authoritative constraint.
func isDuplicateNameErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// ListProducts handles retrieving a filtered, sorted, paginated product page
func ListProducts(c echo.Context) error {
	log := logger.FromContext(c)

	pageSize := defaultPageSize
	if v := c.QueryParam("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		} else {
			log.Warn("Invalid pageSize parameter", zap.String("value", v))
		}
	}

	pageNumber := defaultPageNumber
	if v := c.QueryParam("pageNumber"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			pageNumber = n
		} else {
			log.Warn("Invalid pageNumber parameter", zap.String("value", v))
		}
	}
	// Non-positive page numbers are clamped so the offset never goes negative
	if pageNumber < 1 {
		pageNumber = 1
	}

	query := database.GetDB().Model(&model.Product{})

	if search := strings.TrimSpace(c.QueryParam("search")); search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
		log.Info("Filtering products by name", zap.String("search", search))
	}

	// Ordering applies only when both parameters are present and recognized
	sortType := c.QueryParam("sortType")
	sortOrder := c.QueryParam("sortOrder")
	if sortType != "" && sortOrder != "" {
		column, ok := sortColumns[sortType]
		if ok && (sortOrder == "asc" || sortOrder == "desc") {
			query = query.Order(column + " " + sortOrder)
			log.Info("Sorting products",
				zap.String("sort_type", sortType),
				zap.String("sort_order", sortOrder))
		}
	}

	// Initialized so an empty page serializes as [] rather than null
	products := make([]model.Product, 0, pageSize)
	defer prometheus.TrackDBOperation("select")(time.Now())
	result := query.Offset(pageSize * (pageNumber - 1)).Limit(pageSize).Find(&products)
	if result.Error != nil {
		log.Error("Failed to list products", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to retrieve products",
		})
	}

	prometheus.RecordProductOperation("list")
	log.Info("Products retrieved successfully", zap.Int("count", len(products)))
	return c.JSON(http.StatusOK, products)
}

// GetProduct handles retrieving a single product by ID, category included
func GetProduct(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		log.Warn("Invalid product id", zap.String("product_id", c.Param("id")))
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid product id",
		})
	}

	var product model.Product
	defer prometheus.TrackDBOperation("select")(time.Now())
	result := database.GetDB().Preload("Category").First(&product, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			log.Warn("Product not found", zap.Uint64("product_id", id))
			return c.JSON(http.StatusNotFound, echo.Map{
				"error": "Product not found",
			})
		}
		log.Error("Failed to get product", zap.Uint64("product_id", id), zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to retrieve product",
		})
	}

	categoryName := ""
	if product.Category != nil {
		categoryName = product.Category.Name
	}
	prometheus.RecordProductOperation("get")
	prometheus.RecordProductView(strconv.FormatUint(id, 10), categoryName)

	log.Info("Product retrieved successfully",
		zap.Uint64("product_id", id),
		zap.String("product_name", product.Name))
	return c.JSON(http.StatusOK, product)
}

// CreateProduct handles creating a new product from a multipart form.
// Validation runs first, then the image write, then the row insert, so a
// rejected request leaves neither a file nor a row behind and a crash can
// only orphan a file, never a URL.
func CreateProduct(c echo.Context) error {
	log := logger.FromContext(c)
	log.Info("Creating new product")

	form, err := bindProductForm(c)
	if err != nil {
		log.Error("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid request data",
		})
	}

	if errs := validateProductForm(form, 0); len(errs) > 0 {
		log.Warn("Product validation failed", zap.Any("errors", errs))
		return c.JSON(http.StatusBadRequest, echo.Map{"errors": errs})
	}

	images := imagestore.Get()
	imageURL := images.Placeholder()
	if form.Image != nil {
		imageURL, err = images.Save(form.Image)
		if err != nil {
			log.Error("Failed to store product image", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{
				"error": "Failed to store image",
			})
		}
	}

	product := model.Product{
		Name:           form.Name,
		Description:    form.Description,
		ProductionDate: form.ProductionDate,
		CategoryID:     form.CategoryID,
		ImageURL:       imageURL,
		CreatedAt:      time.Now(),
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	result := database.GetDB().Create(&product)
	if result.Error != nil {
		// The insert failed, so the file written above must not survive
		if imageURL != images.Placeholder() {
			if rmErr := images.Remove(imageURL); rmErr != nil {
				log.Warn("Failed to clean up image after insert failure", zap.Error(rmErr))
			}
		}
		if isDuplicateNameErr(result.Error) {
			log.Warn("Duplicate product name hit the unique index", zap.String("name", form.Name))
			return c.JSON(http.StatusBadRequest, echo.Map{
				"errors": fieldErrors{"DuplicateName": {"The product name already exists"}},
			})
		}
		log.Error("Failed to create product", zap.String("name", form.Name), zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to create product",
		})
	}

	prometheus.RecordProductOperation("create")
	log.Info("Product created successfully",
		zap.Uint("product_id", product.ID),
		zap.String("name", product.Name),
		zap.String("image_url", product.ImageURL))

	c.Response().Header().Set(echo.HeaderLocation, fmt.Sprintf("/api/products/%d", product.ID))
	return c.JSON(http.StatusCreated, product)
}

// UpdateProduct handles a full replace of an existing product. CreatedAt is
// preserved from the stored row; LastUpdatedAt is set on every update. A
// replaced image's old file is deleted only after the row write commits.
func UpdateProduct(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		log.Warn("Invalid product id", zap.String("product_id", c.Param("id")))
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid product id",
		})
	}

	form, err := bindProductForm(c)
	if err != nil {
		log.Error("Invalid request data", zap.Uint64("product_id", id), zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid request data",
		})
	}
	if form.ID != uint(id) {
		log.Warn("Form id does not match path id",
			zap.Uint64("path_id", id),
			zap.Uint("form_id", form.ID))
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid request data",
		})
	}

	var existing model.Product
	result := database.GetDB().First(&existing, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			log.Warn("Product not found for update", zap.Uint64("product_id", id))
			return c.JSON(http.StatusNotFound, echo.Map{
				"error": "Product not found",
			})
		}
		log.Error("Failed to load product for update", zap.Uint64("product_id", id), zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to update product",
		})
	}

	if errs := validateProductForm(form, uint(id)); len(errs) > 0 {
		log.Warn("Product validation failed", zap.Uint64("product_id", id), zap.Any("errors", errs))
		return c.JSON(http.StatusBadRequest, echo.Map{"errors": errs})
	}

	images := imagestore.Get()
	imageURL := existing.ImageURL
	if form.Image != nil {
		imageURL, err = images.Save(form.Image)
		if err != nil {
			log.Error("Failed to store product image", zap.Uint64("product_id", id), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{
				"error": "Failed to store image",
			})
		}
	}

	now := time.Now()
	product := model.Product{
		ID:             uint(id),
		Name:           form.Name,
		Description:    form.Description,
		ProductionDate: form.ProductionDate,
		CategoryID:     form.CategoryID,
		ImageURL:       imageURL,
		CreatedAt:      existing.CreatedAt,
		LastUpdatedAt:  &now,
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	result = database.GetDB().Save(&product)
	if result.Error != nil {
		if form.Image != nil {
			if rmErr := images.Remove(imageURL); rmErr != nil {
				log.Warn("Failed to clean up image after update failure", zap.Error(rmErr))
			}
		}
		if isDuplicateNameErr(result.Error) {
			log.Warn("Duplicate product name hit the unique index", zap.String("name", form.Name))
			return c.JSON(http.StatusBadRequest, echo.Map{
				"errors": fieldErrors{"DuplicateName": {"The product name already exists"}},
			})
		}
		log.Error("Failed to update product", zap.Uint64("product_id", id), zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to update product",
		})
	}

	// The row now references the new image; the old file can go
	if form.Image != nil && existing.ImageURL != imageURL {
		if rmErr := images.Remove(existing.ImageURL); rmErr != nil {
			log.Warn("Failed to remove replaced image",
				zap.String("image_url", existing.ImageURL),
				zap.Error(rmErr))
		}
	}

	prometheus.RecordProductOperation("update")
	log.Info("Product updated successfully",
		zap.Uint64("product_id", id),
		zap.String("name", product.Name),
		zap.String("image_url", product.ImageURL))
	return c.NoContent(http.StatusNoContent)
}

// DeleteProduct handles deleting a product and its uploaded image file.
// The file is removed after the row delete commits, so a crash can only
// orphan a file, never break a stored URL.
func DeleteProduct(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		log.Warn("Invalid product id", zap.String("product_id", c.Param("id")))
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid product id",
		})
	}

	var product model.Product
	result := database.GetDB().First(&product, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			log.Warn("Product not found for deletion", zap.Uint64("product_id", id))
			return c.JSON(http.StatusNotFound, echo.Map{
				"error": "Product not found",
			})
		}
		log.Error("Failed to load product for deletion", zap.Uint64("product_id", id), zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to delete product",
		})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	result = database.GetDB().Delete(&model.Product{}, id)
	if result.Error != nil {
		log.Error("Failed to delete product", zap.Uint64("product_id", id), zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to delete product",
		})
	}

	if rmErr := imagestore.Get().Remove(product.ImageURL); rmErr != nil {
		log.Warn("Failed to remove product image",
			zap.String("image_url", product.ImageURL),
			zap.Error(rmErr))
	}

	prometheus.RecordProductOperation("delete")
	log.Info("Product deleted successfully",
		zap.Uint64("product_id", id),
		zap.String("name", product.Name))
	return c.NoContent(http.StatusNoContent)
}
