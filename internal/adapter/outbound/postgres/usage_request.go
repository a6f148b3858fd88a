package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// usageRequestAdapter implements outbound.UsageRequestDatabasePort.
type usageRequestAdapter struct {
	db *gorm.DB
}

// NewUsageRequestAdapter creates a new usage request database adapter.
func NewUsageRequestAdapter(db *gorm.DB) outbound.UsageRequestDatabasePort {
	return &usageRequestAdapter{db: db}
}

func (a *usageRequestAdapter) Create(ctx context.Context, req *model.UsageRequest) error {
	res := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(req)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return outbound.ErrDuplicateKey
	}
	return nil
}

func (a *usageRequestAdapter) GetByID(ctx context.Context, id string) (*model.UsageRequest, error) {
	var req model.UsageRequest
	err := a.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (a *usageRequestAdapter) Transition(ctx context.Context, id string, from, to model.UsageStatus, settlement *model.UsageSettlement) (bool, error) {
	update := &model.UsageRequest{Status: to}
	columns := []string{"status"}
	if settlement != nil {
		settledAt := settlement.SettledAt
		update.Outputs = settlement.Outputs
		update.FailureCode = settlement.FailureCode
		update.SettledAt = &settledAt
		columns = append(columns, "outputs", "failure_code", "settled_at")
	}

	res := a.db.WithContext(ctx).
		Model(&model.UsageRequest{}).
		Where("id = ? AND status = ?", id, from).
		Select(columns).
		Updates(update)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (a *usageRequestAdapter) ListByStatusBefore(ctx context.Context, status model.UsageStatus, before time.Time, limit int) ([]*model.UsageRequest, error) {
	var reqs []*model.UsageRequest
	err := a.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", status, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

func (a *usageRequestAdapter) List(ctx context.Context, filter *model.UsageFilter) ([]*model.UsageRequest, int64, error) {
	filter.DefaultPagination()

	query := a.db.WithContext(ctx).Model(&model.UsageRequest{})
	if filter.IdentityKey != "" {
		query = query.Where("identity_key = ?", filter.IdentityKey)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var reqs []*model.UsageRequest
	err := query.
		Order("created_at DESC").
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&reqs).Error
	if err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

func (a *usageRequestAdapter) CountByStatus(ctx context.Context) (map[model.UsageStatus]int64, error) {
	var rows []struct {
		Status model.UsageStatus
		Count  int64
	}
	err := a.db.WithContext(ctx).
		Model(&model.UsageRequest{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.UsageStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
