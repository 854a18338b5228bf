package channel

import (
	"context"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

// Outbound is one reply to push to a customer.
type Outbound struct {
	Recipient   string
	AccessToken string
	Text        string
	Products    []models.Product
}

type Sender interface {
	SendReply(ctx context.Context, out Outbound) error
	SendImage(ctx context.Context, recipient, accessToken, imageURL string, product *models.Product) error
}

var ErrNoSender = errors.New("channel: no sender for platform")

// Dispatcher selects exactly one sender by platform. Web has none: its reply
// travels back in the HTTP response.
type Dispatcher struct {
	senders map[models.Platform]Sender
}

func NewDispatcher(facebook, zalo Sender) *Dispatcher {
	d := &Dispatcher{senders: map[models.Platform]Sender{}}
	if facebook != nil {
		d.senders[models.PlatformFacebook] = facebook
	}
	if zalo != nil {
		d.senders[models.PlatformZalo] = zalo
	}
	return d
}

// Pushes reports whether replies on this platform are sent outbound.
func (d *Dispatcher) Pushes(platform models.Platform) bool {
	return platform == models.PlatformFacebook || platform == models.PlatformZalo
}

func (d *Dispatcher) sender(platform models.Platform) (Sender, error) {
	if !d.Pushes(platform) {
		return nil, nil
	}
	s, ok := d.senders[platform]
	if !ok {
		return nil, errors.Wrap(ErrNoSender, string(platform))
	}
	return s, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, platform models.Platform, out Outbound) error {
	s, err := d.sender(platform)
	if err != nil || s == nil {
		return err
	}
	if out.Recipient == "" {
		return errors.Errorf("channel: %s recipient is empty", platform)
	}
	return s.SendReply(ctx, out)
}

func (d *Dispatcher) SendImage(ctx context.Context, platform models.Platform, recipient, accessToken, imageURL string, product *models.Product) error {
	s, err := d.sender(platform)
	if err != nil || s == nil {
		return err
	}
	if recipient == "" {
		return errors.Errorf("channel: %s recipient is empty", platform)
	}
	return s.SendImage(ctx, recipient, accessToken, imageURL, product)
}
