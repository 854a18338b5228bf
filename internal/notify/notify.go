// Package notify sends order notifications over Zalo ZNS to customers who
// consented to receive them, and keeps a log of every attempt.
package notify

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/suPer8Hu/commerce-chat/internal/address"
	"github.com/suPer8Hu/commerce-chat/internal/channel"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
)

var (
	ErrInvalidConsent = errors.New("notify: a valid phone and zalo_user_id are required")
	ErrNoConsent      = errors.New("notify: customer has not consented to zalo notifications")
)

// Sender delivers one order template message.
type Sender interface {
	Configured() bool
	SendOrder(ctx context.Context, o channel.ZNSOrder) (channel.ZNSResult, error)
}

type Service struct {
	repo       *sqlstore.Repo
	sender     Sender
	templateID string
}

func New(repo *sqlstore.Repo, sender Sender, templateID string) *Service {
	return &Service{repo: repo, sender: sender, templateID: templateID}
}

func (s *Service) SaveConsent(ctx context.Context, phone, zaloUserID string) (*models.ZaloConsent, error) {
	phone = address.NormalizePhone(phone)
	zaloUserID = strings.TrimSpace(zaloUserID)
	if zaloUserID == "" || !address.ValidPhone(phone) {
		return nil, ErrInvalidConsent
	}
	c, err := s.repo.SaveZaloConsent(ctx, phone, zaloUserID)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"phone": phone, "zalo_user_id": zaloUserID}).Info("zalo consent saved")
	return c, nil
}

// RevokeConsent is called when the account unfollows the OA.
func (s *Service) RevokeConsent(ctx context.Context, zaloUserID string) error {
	n, err := s.repo.RevokeZaloConsent(ctx, zaloUserID)
	if err != nil {
		return errors.Wrap(err, "revoke zalo consent")
	}
	if n > 0 {
		log.WithField("zalo_user_id", zaloUserID).Info("zalo consent revoked")
	}
	return nil
}

// OrderCreated notifies the customer of a new order when they consented.
// Failures are logged and recorded, never returned.
func (s *Service) OrderCreated(ctx context.Context, order *models.Order) {
	if !s.sender.Configured() {
		return
	}
	logger := log.WithField("order_number", order.OrderNumber)
	consent, err := s.repo.ActiveZaloConsent(ctx, address.NormalizePhone(order.CustomerPhone))
	if err != nil {
		logger.WithError(err).Warn("zalo consent lookup failed")
		return
	}
	if consent == nil {
		logger.Debug("no zalo consent, notification skipped")
		return
	}
	if _, err := s.send(ctx, order, consent.ZaloUserID); err != nil {
		logger.WithError(err).Warn("order notification failed")
	}
}

// SendOrder (re)sends the notification for an existing order. zaloUserID is
// used when the order's phone has no stored consent.
func (s *Service) SendOrder(ctx context.Context, orderNumber, zaloUserID string) (*models.ZNSLog, error) {
	if !s.sender.Configured() {
		return nil, channel.ErrZNSNotConfigured
	}
	order, err := s.repo.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	consent, err := s.repo.ActiveZaloConsent(ctx, address.NormalizePhone(order.CustomerPhone))
	if err != nil {
		return nil, err
	}
	if consent != nil {
		zaloUserID = consent.ZaloUserID
	}
	if strings.TrimSpace(zaloUserID) == "" {
		return nil, ErrNoConsent
	}
	return s.send(ctx, order, zaloUserID)
}

func (s *Service) Logs(ctx context.Context, orderNumber string, limit int) ([]models.ZNSLog, error) {
	return s.repo.ListZNSLogs(ctx, strings.TrimSpace(orderNumber), limit)
}

// send delivers and logs one attempt. The log is returned even when the
// send failed.
func (s *Service) send(ctx context.Context, order *models.Order, zaloUserID string) (*models.ZNSLog, error) {
	res, sendErr := s.sender.SendOrder(ctx, channel.ZNSOrder{
		OrderNumber:  order.OrderNumber,
		CustomerName: order.CustomerName,
		Phone:        order.CustomerPhone,
		OrderDate:    order.CreatedAt,
		Status:       order.Status,
	})

	entry := &models.ZNSLog{
		OrderNumber:   order.OrderNumber,
		ZaloUserID:    zaloUserID,
		CustomerPhone: order.CustomerPhone,
		TemplateID:    s.templateID,
		Status:        models.ZNSSent,
		MsgID:         res.MsgID,
	}
	if len(res.Raw) > 0 {
		entry.Response = datatypes.JSON(res.Raw)
	}
	if sendErr != nil {
		entry.Status = models.ZNSFailed
		entry.ErrorMessage = truncate(sendErr.Error(), 512)
	}
	if err := s.repo.InsertZNSLog(ctx, entry); err != nil {
		log.WithError(err).WithField("order_number", order.OrderNumber).Warn("zns log not saved")
	}
	if sendErr != nil {
		return entry, sendErr
	}

	log.WithFields(log.Fields{"order_number": order.OrderNumber, "msg_id": res.MsgID}).Info("order notification sent")
	return entry, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
