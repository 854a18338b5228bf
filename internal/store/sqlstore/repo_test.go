package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/testutil"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	return NewRepo(testutil.OpenDB(t))
}

func TestGetOrCreateConversationIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	key := ConversationKey{Platform: models.PlatformFacebook, CustomerFBID: "fb-123", PageID: "page-1"}

	first, created, err := repo.GetOrCreateConversation(ctx, key)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.GetOrCreateConversation(ctx, key)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "facebook:fb-123", second.IdentityKey)
}

func TestConversationIdentityPrecedence(t *testing.T) {
	uid := uint64(42)
	cases := []struct {
		key  ConversationKey
		want string
	}{
		{ConversationKey{Platform: models.PlatformZalo, CustomerZaloID: "z1", SessionID: "s"}, "zalo:z1"},
		{ConversationKey{Platform: models.PlatformWeb, UserID: &uid, SessionID: "s"}, "user:42"},
		{ConversationKey{Platform: models.PlatformWeb, SessionID: "anon-1"}, "session:anon-1"},
		{ConversationKey{Platform: models.PlatformFacebook, SessionID: "s2"}, "session:s2"},
	}
	for _, c := range cases {
		got, err := c.key.IdentityKey()
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := ConversationKey{Platform: models.PlatformWeb}.IdentityKey()
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestResolveConfirmationKeepsHighestMessageID(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	conv, _, err := repo.GetOrCreateConversation(ctx, ConversationKey{Platform: models.PlatformWeb, SessionID: "s"})
	require.NoError(t, err)

	require.NoError(t, repo.SetAwaitingConfirmation(ctx, conv.ID))
	require.NoError(t, repo.ResolveConfirmation(ctx, conv.ID, 10))
	require.NoError(t, repo.ResolveConfirmation(ctx, conv.ID, 4))

	got, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, got.AwaitingConfirmation)
	assert.Equal(t, uint64(10), got.ConfirmationResolvedMsgID)
}

func TestMessagesOrderingAndBotFilter(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	conv, _, err := repo.GetOrCreateConversation(ctx, ConversationKey{Platform: models.PlatformWeb, SessionID: "s"})
	require.NoError(t, err)

	for _, m := range []models.Message{
		{Sender: models.SenderCustomer, Content: "c1"},
		{Sender: models.SenderBot, Content: "b1"},
		{Sender: models.SenderCustomer, Content: "c2"},
		{Sender: models.SenderBot, Content: "b2"},
	} {
		m := m
		m.ConversationID = conv.ID
		require.NoError(t, repo.InsertMessage(ctx, &m))
	}

	recent, err := repo.ListRecentMessagesDesc(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "b2", recent[0].Content)
	assert.Equal(t, "b1", recent[2].Content)

	bots, err := repo.LastBotMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, "b2", bots[0].Content)

	n, err := repo.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestAddToCartMergesSameProductAndSize(t *testing.T) {
	gdb := testutil.OpenDB(t)
	repo := NewRepo(gdb)
	ctx := context.Background()
	p := testutil.SeedProduct(t, gdb, "Đầm lụa", 450000, 5, true, "https://img/1.jpg")

	add := func(size string, qty int) (int, bool) {
		lines, merged, err := repo.AddToCart(ctx, &models.CartItem{
			ConversationID: "conv-1", ProductID: p.ID, Size: size, Quantity: qty, Price: p.Price,
		})
		require.NoError(t, err)
		return lines, merged
	}

	lines, merged := add("m", 1)
	assert.Equal(t, 1, lines)
	assert.False(t, merged)

	lines, merged = add("M", 2)
	assert.Equal(t, 1, lines)
	assert.True(t, merged)

	lines, _ = add("L", 1)
	assert.Equal(t, 2, lines)

	cart, err := repo.GetCart(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, cart, 2)
	assert.Equal(t, "M", cart[0].Size)
	assert.Equal(t, 3, cart[0].Quantity)
}

func TestUpdateCartQuantityAmbiguousAndRemove(t *testing.T) {
	gdb := testutil.OpenDB(t)
	repo := NewRepo(gdb)
	ctx := context.Background()
	p := testutil.SeedProduct(t, gdb, "Áo sơ mi", 300000, 5, false)

	for _, size := range []string{"S", "M"} {
		_, _, err := repo.AddToCart(ctx, &models.CartItem{ConversationID: "c", ProductID: p.ID, Size: size, Quantity: 1, Price: p.Price})
		require.NoError(t, err)
	}

	err := repo.UpdateCartQuantity(ctx, "c", p.ID, "", 4)
	assert.ErrorIs(t, err, ErrAmbiguousSize)

	require.NoError(t, repo.UpdateCartQuantity(ctx, "c", p.ID, "s", 4))
	require.NoError(t, repo.UpdateCartQuantity(ctx, "c", p.ID, "M", 0))

	cart, err := repo.GetCart(ctx, "c")
	require.NoError(t, err)
	require.Len(t, cart, 1)
	assert.Equal(t, 4, cart[0].Quantity)

	removed, err := repo.RemoveFromCart(ctx, "c", p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestUpsertDefaultAddressKeepsSingleDefault(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	first, err := repo.UpsertDefaultAddress(ctx, 7, models.ShippingAddress{AddressLine: "1 Lê Lợi", City: "Hà Nội"})
	require.NoError(t, err)
	second, err := repo.UpsertDefaultAddress(ctx, 7, models.ShippingAddress{AddressLine: "12 Nguyễn Trãi", City: "TP.HCM"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var defaults int64
	require.NoError(t, repo.DB().Model(&models.Address{}).Where("user_id = ? AND is_default = ?", 7, true).Count(&defaults).Error)
	assert.Equal(t, int64(1), defaults)

	got, err := repo.GetDefaultAddress(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "12 Nguyễn Trãi", got.AddressLine)

	none, err := repo.GetDefaultAddress(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUpsertDefaultAddressKeepsContactWhenOmitted(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertDefaultAddress(ctx, 7, models.ShippingAddress{
		FullName:    "Trần Thị Mai",
		Phone:       "0912345678",
		AddressLine: "1 Lê Lợi",
		City:        "Hà Nội",
	})
	require.NoError(t, err)

	got, err := repo.UpsertDefaultAddress(ctx, 7, models.ShippingAddress{AddressLine: "12 Nguyễn Trãi", City: "TP.HCM"})
	require.NoError(t, err)
	assert.Equal(t, "Trần Thị Mai", got.FullName)
	assert.Equal(t, "0912345678", got.Phone)
	assert.Equal(t, "12 Nguyễn Trãi", got.AddressLine)

	got, err = repo.UpsertDefaultAddress(ctx, 7, models.ShippingAddress{Phone: "0987654321", AddressLine: "12 Nguyễn Trãi", City: "TP.HCM"})
	require.NoError(t, err)
	assert.Equal(t, "Trần Thị Mai", got.FullName)
	assert.Equal(t, "0987654321", got.Phone)

	stored, err := repo.GetDefaultAddress(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Trần Thị Mai", stored.FullName)
	assert.Equal(t, "0987654321", stored.Phone)
}

func TestCustomerNameUpdateFailureIsLogged(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	key := ConversationKey{Platform: models.PlatformFacebook, CustomerFBID: "psid-1"}

	conv, _, err := repo.GetOrCreateConversation(ctx, key)
	require.NoError(t, err)

	require.NoError(t, repo.DB().Callback().Update().Before("gorm:update").Register("test:fail_update", func(tx *gorm.DB) {
		_ = tx.AddError(errors.New("disk full"))
	}))
	hook := test.NewGlobal()
	t.Cleanup(func() { log.StandardLogger().ReplaceHooks(make(log.LevelHooks)) })

	key.CustomerName = "Mai"
	again, created, err := repo.GetOrCreateConversation(ctx, key)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
	assert.Empty(t, again.CustomerName)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "update customer name failed" {
			found = true
			assert.Equal(t, log.WarnLevel, e.Level)
			assert.EqualError(t, e.Data[log.ErrorKey].(error), "disk full")
		}
	}
	assert.True(t, found)
}

func TestProfileSnapshotRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	p, err := repo.EnsureProfile(ctx, "conv-x", nil)
	require.NoError(t, err)
	again, err := repo.EnsureProfile(ctx, "conv-x", nil)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	addr := models.ShippingAddress{AddressLine: "12 Nguyễn Trãi", Ward: "Phường 1", District: "Quận 1", City: "TP.HCM", Phone: "0901234567"}
	require.NoError(t, repo.UpdateShippingSnapshot(ctx, p.ID, addr))

	got, err := repo.GetProfile(ctx, "conv-x")
	require.NoError(t, err)
	assert.Equal(t, "12 Nguyễn Trãi", got.AddressLine)
	assert.Equal(t, "Phường 1", got.Ward)
	assert.Equal(t, "Quận 1", got.District)
	assert.Equal(t, "TP.HCM", got.City)
	assert.Equal(t, "0901234567", got.Phone)
}

func TestCreateOrderFromCartConsumesCartOnce(t *testing.T) {
	gdb := testutil.OpenDB(t)
	repo := NewRepo(gdb)
	ctx := context.Background()
	p := testutil.SeedProduct(t, gdb, "Váy", 200000, 3, true)

	_, _, err := repo.AddToCart(ctx, &models.CartItem{ConversationID: "c", ProductID: p.ID, Size: "M", Quantity: 1, Price: p.Price})
	require.NoError(t, err)
	cart, err := repo.GetCart(ctx, "c")
	require.NoError(t, err)

	build := func(number string) *models.Order {
		return &models.Order{
			OrderNumber: number, ConversationID: "c", CustomerName: "Lan", CustomerPhone: "0901234567",
			AddressLine: "12 Nguyễn Trãi", City: "TP.HCM", Subtotal: 200000, ShippingFee: 30000, Total: 230000,
			Status: models.OrderPending,
			Items:  []models.OrderItem{{ProductID: p.ID, ProductName: p.Name, Size: "M", Quantity: 1, Price: p.Price}},
		}
	}

	require.NoError(t, repo.CreateOrderFromCart(ctx, build("ORD-1"), []uint64{cart[0].ID}))
	err = repo.CreateOrderFromCart(ctx, build("ORD-2"), []uint64{cart[0].ID})
	assert.ErrorIs(t, err, ErrCartChanged)

	orders, err := repo.ListOrders(ctx, "c")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Len(t, orders[0].Items, 1)

	left, err := repo.GetCart(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, left)

	changed, err := repo.DecrementStock(ctx, p.ID, 5)
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = repo.DecrementStock(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestFactsReplaceAndExpire(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertFact(ctx, &models.MemoryFact{ProfileID: 1, FactType: models.FactShipping, FactText: "Địa chỉ giao hàng: cũ", Importance: 9}))
	require.NoError(t, repo.ReplaceFact(ctx, "Địa chỉ giao hàng:", &models.MemoryFact{ProfileID: 1, FactType: models.FactShipping, FactText: "Địa chỉ giao hàng: mới", Importance: 9}))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, repo.InsertFact(ctx, &models.MemoryFact{ProfileID: 1, FactType: models.FactLifeEvent, FactText: "Sắp đi du lịch", Importance: 6, ExpiresAt: &past}))

	facts, err := repo.ListActiveFacts(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Địa chỉ giao hàng: mới", facts[0].FactText)

	n, err := repo.ExpireFacts(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProductInterestCounts(t *testing.T) {
	gdb := testutil.OpenDB(t)
	repo := NewRepo(gdb)
	ctx := context.Background()
	p := testutil.SeedProduct(t, gdb, "Quần jean", 390000, 4, false)

	require.NoError(t, repo.RecordProductInterest(ctx, 9, p.ID))
	require.NoError(t, repo.RecordProductInterest(ctx, 9, p.ID))

	got, err := repo.ListInterests(ctx, 9, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Quần jean", got[0].Name)
	assert.Equal(t, 2, got[0].ViewCount)
}

func TestCreateJobOrGetExisting(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	key := "mid.123"

	j1 := &models.InboundJob{ID: "01HZZZZZZZZZZZZZZZZZZZZZZ1", Platform: models.PlatformFacebook, IdempotencyKey: &key, Payload: []byte(`{}`), Status: models.JobQueued}
	got, created, err := repo.CreateJobOrGetExisting(ctx, j1)
	require.NoError(t, err)
	assert.True(t, created)

	j2 := &models.InboundJob{ID: "01HZZZZZZZZZZZZZZZZZZZZZZ2", Platform: models.PlatformFacebook, IdempotencyKey: &key, Payload: []byte(`{}`), Status: models.JobQueued}
	again, created, err := repo.CreateJobOrGetExisting(ctx, j2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, got.ID, again.ID)

	ok, err := repo.UpdateJobStatusRunning(ctx, got.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.UpdateJobStatusRunning(ctx, got.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.MarkJobSucceeded(ctx, got.ID, "conv", 5))
	final, err := repo.GetJobByID(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, final.Status)
	require.NotNil(t, final.ResultMessageID)
	assert.Equal(t, uint64(5), *final.ResultMessageID)
}
