package address

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

func TestValidateRulesInOrder(t *testing.T) {
	cases := []struct {
		name string
		in   models.ShippingAddress
		want Reason
	}{
		{"missing line", models.ShippingAddress{City: "Hà Nội"}, ReasonTooShort},
		{"short line", models.ShippingAddress{AddressLine: "12 A", City: "Hà Nội"}, ReasonTooShort},
		{"phone as line", models.ShippingAddress{AddressLine: "0901 234 567", City: "Hà Nội"}, ReasonDigitsOnly},
		{"product text", models.ShippingAddress{AddressLine: "Set vest cao cấp 2 lớp", City: "Hà Nội"}, ReasonProductText},
		{"product word but numbered", models.ShippingAddress{AddressLine: "15 Ngõ Áo Dài", City: "Hà Nội"}, ReasonNone},
		{"bad phone", models.ShippingAddress{AddressLine: "12 Nguyễn Trãi", Phone: "12345", City: "Hà Nội"}, ReasonInvalidPhone},
		{"missing city", models.ShippingAddress{AddressLine: "12 Nguyễn Trãi", Phone: "0901234567"}, ReasonMissingCity},
		{"district word is not apparel", models.ShippingAddress{AddressLine: "Ngõ 5 Quận Đống Đa", City: "Hà Nội"}, ReasonNone},
		{"valid", models.ShippingAddress{AddressLine: "12 Nguyễn Trãi", Ward: "Phường 1", District: "Quận 1", City: "TP.HCM", Phone: "+84901234567"}, ReasonNone},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res := Validate(c.in)
			assert.Equal(t, c.want, res.Reason)
			assert.Equal(t, c.want == ReasonNone, res.OK)
			assert.NotEmpty(t, res.Message)
		})
	}
}

func TestValidateMessages(t *testing.T) {
	res := Validate(models.ShippingAddress{AddressLine: "abc"})
	assert.Equal(t, "Địa chỉ quá ngắn, vui lòng cung cấp đầy đủ số nhà và tên đường", res.Message)
	assert.False(t, res.NeedsReparse())

	res = Validate(models.ShippingAddress{AddressLine: "0901234567", City: "Hà Nội"})
	assert.True(t, res.NeedsReparse())
	assert.Equal(t, "Địa chỉ không hợp lệ", res.Message)
}

func TestNormalize(t *testing.T) {
	got := Normalize(models.ShippingAddress{
		FullName:    "nguyễn thị  lan",
		Phone:       "090 123.4567",
		AddressLine: " 12  nguyễn trãi ",
		Ward:        "phường 1",
		District:    "quận 1",
		City:        "ho chi minh",
	})
	assert.Equal(t, "Nguyễn Thị Lan", got.FullName)
	assert.Equal(t, "0901234567", got.Phone)
	assert.Equal(t, "12 Nguyễn Trãi", got.AddressLine)
	assert.Equal(t, "Phường 1", got.Ward)
	assert.Equal(t, "Quận 1", got.District)
	assert.Equal(t, "TP.HCM", got.City)
}

func TestCanonicalCity(t *testing.T) {
	for in, want := range map[string]string{
		"Hà Nội":     "Hà Nội",
		"ha noi":     "Hà Nội",
		"TP HCM":     "TP.HCM",
		"Sài Gòn":    "TP.HCM",
		"Đà Nẵngg":   "Đà Nẵng",
		"nha trang":  "Nha Trang",
		"Vung Tau":   "Vũng Tàu",
		"Hồ Chí Min": "TP.HCM",
	} {
		got, ok := CanonicalCity(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := CanonicalCity("Paris")
	assert.False(t, ok)
}

func TestExtractFromFreeText(t *testing.T) {
	got, ok := Extract("Giao về 12 Nguyễn Trãi, Phường 1, Quận 1, TP.HCM sdt 0901234567")
	assert.True(t, ok)
	assert.Equal(t, "12 Nguyễn Trãi", got.AddressLine)
	assert.Equal(t, "Phường 1", got.Ward)
	assert.Equal(t, "Quận 1", got.District)
	assert.Equal(t, "TP.HCM", got.City)
	assert.Equal(t, "0901234567", got.Phone)
}

func TestExtractWithoutCommas(t *testing.T) {
	got, ok := Extract("địa chỉ 25 lý thường kiệt phường trần hưng đạo hoàn kiếm hà nội")
	assert.True(t, ok)
	assert.Equal(t, "25 Lý Thường Kiệt", got.AddressLine)
	assert.Equal(t, "Hoàn Kiếm", got.District)
	assert.Equal(t, "Hà Nội", got.City)
	assert.Empty(t, got.Phone)
}

func TestExtractNeverUsesPhoneAsLine(t *testing.T) {
	got, ok := Extract("0901234567")
	assert.False(t, ok)
	assert.Empty(t, got.AddressLine)
	assert.Equal(t, "0901234567", got.Phone)
}

func TestExtractStreetNamedLikeCity(t *testing.T) {
	got, _ := Extract("5 Nguyễn Huệ, Quận 1")
	assert.Empty(t, got.City)
	assert.Equal(t, "5 Nguyễn Huệ", got.AddressLine)
}
