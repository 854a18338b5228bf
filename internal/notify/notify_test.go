package notify

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/commerce-chat/internal/channel"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
	"github.com/suPer8Hu/commerce-chat/internal/testutil"
)

type fakeSender struct {
	disabled bool
	err      error
	sent     []channel.ZNSOrder
}

func (f *fakeSender) Configured() bool { return !f.disabled }

func (f *fakeSender) SendOrder(_ context.Context, o channel.ZNSOrder) (channel.ZNSResult, error) {
	f.sent = append(f.sent, o)
	if f.err != nil {
		return channel.ZNSResult{Raw: []byte(`{"error":-124,"message":"Invalid phone"}`)}, f.err
	}
	return channel.ZNSResult{MsgID: "m-1", Raw: []byte(`{"error":0}`)}, nil
}

type fixture struct {
	ctx    context.Context
	repo   *sqlstore.Repo
	sender *fakeSender
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	repo := sqlstore.NewRepo(testutil.OpenDB(t))
	sender := &fakeSender{}
	return &fixture{ctx: context.Background(), repo: repo, sender: sender, svc: New(repo, sender, "tpl-9")}
}

func (f *fixture) order(t *testing.T, number, phone string) *models.Order {
	o := &models.Order{
		OrderNumber:    number,
		ConversationID: "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		CustomerName:   "Nguyễn Thị Lan",
		CustomerPhone:  phone,
		AddressLine:    "12 Nguyễn Trãi",
		City:           "TP.HCM",
		Subtotal:       450000,
		Total:          450000,
		Status:         models.OrderPending,
	}
	require.NoError(t, f.repo.DB().Create(o).Error)
	return o
}

func (f *fixture) logs(t *testing.T, orderNumber string) []models.ZNSLog {
	logs, err := f.svc.Logs(f.ctx, orderNumber, 0)
	require.NoError(t, err)
	return logs
}

func TestOrderCreatedNotifiesConsentedCustomer(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SaveConsent(f.ctx, "090 123 4567", "zuid-1")
	require.NoError(t, err)
	o := f.order(t, "ORD-1", "0901234567")

	f.svc.OrderCreated(f.ctx, o)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "ORD-1", f.sender.sent[0].OrderNumber)
	assert.Equal(t, "0901234567", f.sender.sent[0].Phone)
	assert.Equal(t, models.OrderPending, f.sender.sent[0].Status)

	logs := f.logs(t, "ORD-1")
	require.Len(t, logs, 1)
	assert.Equal(t, models.ZNSSent, logs[0].Status)
	assert.Equal(t, "zuid-1", logs[0].ZaloUserID)
	assert.Equal(t, "tpl-9", logs[0].TemplateID)
	assert.Equal(t, "m-1", logs[0].MsgID)
}

func TestOrderCreatedWithoutConsentSendsNothing(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, "ORD-1", "0901234567")

	f.svc.OrderCreated(f.ctx, o)
	assert.Empty(t, f.sender.sent)
	assert.Empty(t, f.logs(t, ""))

	f.sender.disabled = true
	_, err := f.svc.SaveConsent(f.ctx, "0901234567", "zuid-1")
	require.NoError(t, err)
	f.svc.OrderCreated(f.ctx, o)
	assert.Empty(t, f.sender.sent)
}

func TestFailedSendIsLogged(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("api error -124: Invalid phone")
	_, err := f.svc.SaveConsent(f.ctx, "0901234567", "zuid-1")
	require.NoError(t, err)
	o := f.order(t, "ORD-1", "0901234567")

	f.svc.OrderCreated(f.ctx, o)

	logs := f.logs(t, "ORD-1")
	require.Len(t, logs, 1)
	assert.Equal(t, models.ZNSFailed, logs[0].Status)
	assert.Equal(t, "api error -124: Invalid phone", logs[0].ErrorMessage)
	assert.JSONEq(t, `{"error":-124,"message":"Invalid phone"}`, string(logs[0].Response))
}

func TestSendOrderUsesConsentOrExplicitAccount(t *testing.T) {
	f := newFixture(t)
	f.order(t, "ORD-1", "0901234567")

	_, err := f.svc.SendOrder(f.ctx, "ORD-1", "")
	assert.ErrorIs(t, err, ErrNoConsent)

	entry, err := f.svc.SendOrder(f.ctx, "ORD-1", "zuid-explicit")
	require.NoError(t, err)
	assert.Equal(t, "zuid-explicit", entry.ZaloUserID)

	_, err = f.svc.SaveConsent(f.ctx, "0901234567", "zuid-consent")
	require.NoError(t, err)
	entry, err = f.svc.SendOrder(f.ctx, "ORD-1", "zuid-explicit")
	require.NoError(t, err)
	assert.Equal(t, "zuid-consent", entry.ZaloUserID)

	_, err = f.svc.SendOrder(f.ctx, "ORD-404", "zuid-explicit")
	assert.True(t, sqlstore.IsNotFound(err))

	assert.Len(t, f.logs(t, "ORD-1"), 2)
}

func TestUnfollowRevokesConsent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SaveConsent(f.ctx, "0901234567", "zuid-1")
	require.NoError(t, err)
	o := f.order(t, "ORD-1", "0901234567")

	require.NoError(t, f.svc.RevokeConsent(f.ctx, "zuid-1"))
	f.svc.OrderCreated(f.ctx, o)
	assert.Empty(t, f.sender.sent)

	// consenting again re-activates it
	_, err = f.svc.SaveConsent(f.ctx, "0901234567", "zuid-1")
	require.NoError(t, err)
	f.svc.OrderCreated(f.ctx, o)
	assert.Len(t, f.sender.sent, 1)
}

func TestSaveConsentValidates(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ phone, uid string }{
		{"0901234567", " "},
		{"12345", "zuid-1"},
		{"", "zuid-1"},
	} {
		_, err := f.svc.SaveConsent(f.ctx, tc.phone, tc.uid)
		assert.ErrorIs(t, err, ErrInvalidConsent, tc.phone)
	}

	first, err := f.svc.SaveConsent(f.ctx, "0901234567", "zuid-1")
	require.NoError(t, err)
	second, err := f.svc.SaveConsent(f.ctx, "090.123.4567", "zuid-2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "zuid-2", second.ZaloUserID)
	assert.True(t, second.Active)
}
