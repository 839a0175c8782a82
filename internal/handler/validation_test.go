package handler

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"catalog-service/internal/model"
)

func TestIsDuplicateNameErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "gorm translated duplicate key",
			err:  gorm.ErrDuplicatedKey,
			want: true,
		},
		{
			name: "sqlite unique violation",
			err:  errors.New("UNIQUE constraint failed: products.name"),
			want: true,
		},
		{
			name: "postgres unique violation",
			err:  errors.New(`duplicate key value violates unique constraint "idx_products_name"`),
			want: true,
		},
		{
			name: "unrelated error",
			err:  errors.New("connection refused"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(isDuplicateNameErr(tt.err), qt.Equals, tt.want)
		})
	}
}

// A write racing past the handler's duplicate pre-check still fails on the
// unique index, and that failure is recognized as a duplicate name.
func TestUniqueIndexBacksDuplicateCheck(t *testing.T) {
	c := qt.New(t)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "catalog.db")), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(db.AutoMigrate(&model.Category{}, &model.Product{}), qt.IsNil)

	first := model.Product{
		Name:           "Widget",
		Description:    "Gadget",
		ProductionDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		ImageURL:       "/images/No_Image.png",
		CreatedAt:      time.Now(),
	}
	c.Assert(db.Create(&first).Error, qt.IsNil)

	second := first
	second.ID = 0
	second.Description = "Another gadget"
	writeErr := db.Create(&second).Error
	c.Assert(writeErr, qt.IsNotNil)
	c.Assert(isDuplicateNameErr(writeErr), qt.IsTrue)
}
