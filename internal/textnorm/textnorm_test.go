package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "dat hang", Fold("Đặt   hàng"))
	assert.Equal(t, "ho chi minh", Fold("Hồ Chí Minh"))
	assert.Equal(t, "quan 1", Fold("QUẬN 1"))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, ContainsAny("Em muốn đặt hàng nhé", "đặt hàng"))
	assert.True(t, ContainsAny("em muon dat hang", "đặt hàng"))
	assert.False(t, ContainsAny("xin chào", "đặt hàng", ""))
}

func TestContainsWord(t *testing.T) {
	assert.True(t, ContainsWord("Cho mình mua cái này!", "mua"))
	assert.False(t, ContainsWord("muaaa", "mua"))
	assert.True(t, ContainsWord("ok, chốt đơn", "chốt đơn"))
}

func TestTitleWords(t *testing.T) {
	assert.Equal(t, "12 Nguyễn Trãi", TitleWords("12 nguyễn  TRÃI"))
	assert.Equal(t, "Phường Bến Nghé", TitleWords("phường bến nghé"))
}

func TestContainsExactWordKeepsDiacritics(t *testing.T) {
	assert.True(t, ContainsExactWord("Set quần tây", "quần"))
	assert.False(t, ContainsExactWord("Ngõ 5 Quận Đống Đa", "quần"))
	assert.True(t, ContainsExactWord("ÁO vest", "áo"))
}
