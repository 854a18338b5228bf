// Package assembler gathers the read-only context for one turn.
package assembler

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
	"github.com/suPer8Hu/commerce-chat/internal/turn"
)

const (
	defaultHistorySize  = 10
	defaultProductLimit = 20
	factLimit           = 10
	interestLimit       = 5
)

type Assembler struct {
	repo         *sqlstore.Repo
	historySize  int
	productLimit int
}

func New(repo *sqlstore.Repo, historySize, productLimit int) *Assembler {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	if productLimit <= 0 {
		productLimit = defaultProductLimit
	}
	return &Assembler{repo: repo, historySize: historySize, productLimit: productLimit}
}

// Assemble loads history and candidate products (required) and profile,
// memory and cart (best effort) in parallel. Failed optional reads are
// logged and left empty.
func (a *Assembler) Assemble(ctx context.Context, conv *models.Conversation) (*turn.Context, error) {
	out := &turn.Context{Conversation: conv}
	logger := log.WithField("conversation_id", conv.ID)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		desc, err := a.repo.ListRecentMessagesDesc(gctx, conv.ID, a.historySize)
		if err != nil {
			return errors.Wrap(err, "load history")
		}
		history := make([]models.Message, 0, len(desc))
		for i := len(desc) - 1; i >= 0; i-- {
			history = append(history, desc[i])
		}
		out.History = history
		return nil
	})

	g.Go(func() error {
		products, err := a.repo.ListActiveProducts(gctx, a.productLimit)
		if err != nil {
			return errors.Wrap(err, "load products")
		}
		out.Products = products
		return nil
	})

	g.Go(func() error {
		cart, err := a.repo.GetCart(gctx, conv.ID)
		if err != nil {
			logger.WithError(err).Warn("assemble: cart lookup failed")
			return nil
		}
		out.Cart = cart
		return nil
	})

	g.Go(func() error {
		summary, err := a.repo.LatestSummary(gctx, conv.ID)
		if err != nil {
			logger.WithError(err).Warn("assemble: summary lookup failed")
			return nil
		}
		out.Summary = summary
		return nil
	})

	g.Go(func() error {
		a.loadProfile(gctx, conv, out, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Assembler) loadProfile(ctx context.Context, conv *models.Conversation, out *turn.Context, logger *log.Entry) {
	profile, err := a.repo.GetProfile(ctx, conv.ID)
	if err != nil {
		logger.WithError(err).Warn("assemble: profile lookup failed")
		return
	}
	out.Profile = profile
	if profile != nil {
		out.SavedAddress = profile.Shipping()

		if facts, err := a.repo.ListActiveFacts(ctx, profile.ID, factLimit); err != nil {
			logger.WithError(err).Warn("assemble: facts lookup failed")
		} else {
			out.Facts = facts
		}
		if interests, err := a.repo.ListInterests(ctx, profile.ID, interestLimit); err != nil {
			logger.WithError(err).Warn("assemble: interests lookup failed")
		} else {
			out.Interests = interests
		}
	}

	// The default address of a signed-in user wins over the snapshot.
	if conv.UserID != nil {
		addr, err := a.repo.GetDefaultAddress(ctx, *conv.UserID)
		if err != nil {
			logger.WithError(err).Warn("assemble: default address lookup failed")
			return
		}
		if addr != nil {
			saved := addr.Shipping()
			if saved.Phone == "" && profile != nil {
				saved.Phone = profile.Phone
			}
			out.SavedAddress = saved
		}
	}
}
