package repository

import (
	"log"

	"gorm.io/gorm"

	"payfeed/internal/models"
)

// AuditRepository appends audit rows. Failures are logged and swallowed so
// auditing never breaks the request that triggered it.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(entry *models.AuditLog) {
	if err := r.db.Create(entry).Error; err != nil {
		log.Printf("[Audit] write failed: %v", err)
	}
}
