package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/textutil"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

const (
	// DefaultExpiryLookahead is how far ahead the sweep looks for expiring subscriptions.
	DefaultExpiryLookahead = 72 * time.Hour

	eventExpirySweep = "orders.expiry_sweep"
	expiryDateLayout = "02/01/2006"
)

var expirySubjects = map[language.Tag]string{
	language.Vietnamese: "Dịch vụ sắp hết hạn",
	language.English:    "Subscription expiring soon",
}

func init() {
	_ = message.SetString(language.Vietnamese, "expiry.body",
		"Xin chào %s, dịch vụ %s (%d sản phẩm) trong đơn hàng %s sẽ hết hạn vào %s.")
	_ = message.SetString(language.English, "expiry.body",
		"Hello %s, your subscription to %s (%d items) from order %s expires on %s.")
}

// ExpiryNotifierDeps bundles collaborators required by the expiry sweep.
type ExpiryNotifierDeps struct {
	Orders         repositories.OrderRepository
	Users          repositories.UserRepository
	AnonymousUsers repositories.AnonymousUserRepository
	Collaborators  repositories.CollaboratorRepository
	Notifier       Notifier
	AdminEmail     string
	Lookahead      time.Duration
	Locale         string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type expiryNotifier struct {
	orders        repositories.OrderRepository
	users         repositories.UserRepository
	anonymous     repositories.AnonymousUserRepository
	collaborators repositories.CollaboratorRepository
	notifier      Notifier
	adminEmail    string
	lookahead     time.Duration
	locale        language.Tag
	printer       *message.Printer
	logger        func(context.Context, string, map[string]any)
}

// NewExpiryNotifier wires the expiry sweep.
func NewExpiryNotifier(deps ExpiryNotifierDeps) (ExpiryNotifier, error) {
	if deps.Orders == nil || deps.Users == nil || deps.AnonymousUsers == nil || deps.Collaborators == nil {
		return nil, errors.New("expiry notifier: repositories are required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("expiry notifier: notifier is required")
	}
	lookahead := deps.Lookahead
	if lookahead <= 0 {
		lookahead = DefaultExpiryLookahead
	}
	locale := matchLocale(deps.Locale)
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &expiryNotifier{
		orders:        deps.Orders,
		users:         deps.Users,
		anonymous:     deps.AnonymousUsers,
		collaborators: deps.Collaborators,
		notifier:      deps.Notifier,
		adminEmail:    strings.TrimSpace(deps.AdminEmail),
		lookahead:     lookahead,
		locale:        locale,
		printer:       message.NewPrinter(locale),
		logger:        logger,
	}, nil
}

func matchLocale(raw string) language.Tag {
	supported := []language.Tag{language.Vietnamese, language.English}
	tag, err := language.Parse(strings.TrimSpace(raw))
	if err != nil {
		return language.Vietnamese
	}
	matched, _, _ := language.NewMatcher(supported).Match(tag)
	base, _ := matched.Base()
	for _, candidate := range supported {
		if cb, _ := candidate.Base(); cb == base {
			return candidate
		}
	}
	return language.Vietnamese
}

// Sweep notifies the customer, the collaborator and the administrator about every item expiring
// within the lookahead window. Delivery failures are counted and logged but do not stop the sweep.
func (n *expiryNotifier) Sweep(ctx context.Context, now time.Time) (ExpirySweepResult, error) {
	from := now.UTC()
	to := from.Add(n.lookahead)
	orders, err := n.orders.ListExpiring(ctx, from, to)
	if err != nil {
		return ExpirySweepResult{}, mapRepositoryError(err, nil)
	}

	var result ExpirySweepResult
	for _, order := range orders {
		result.Orders++
		name, customerEmail := n.customerContact(ctx, order)
		collaboratorEmail := n.collaboratorEmail(ctx, order.CollaboratorID)
		for _, item := range order.Items {
			if item.ExpiryDate.Before(from) || item.ExpiryDate.After(to) {
				continue
			}
			result.Items++
			body := n.printer.Sprintf("expiry.body", name, item.ProductName, item.Quantity, order.ID, item.ExpiryDate.Format(expiryDateLayout))
			for _, address := range uniqueAddresses(customerEmail, collaboratorEmail, n.adminEmail) {
				if err := n.notifier.Notify(ctx, address, expirySubjects[n.locale], body); err != nil {
					result.Failed++
					n.logger(ctx, "orders.expiry_notify_failed", map[string]any{"orderId": order.ID, "address": address, "error": err.Error()})
					continue
				}
				result.Sent++
			}
		}
	}

	n.logger(ctx, eventExpirySweep, map[string]any{
		"orders": result.Orders,
		"items":  result.Items,
		"sent":   result.Sent,
		"failed": result.Failed,
	})
	return result, nil
}

func (n *expiryNotifier) customerContact(ctx context.Context, order domain.Order) (string, string) {
	if order.UserID != "" {
		user, err := n.users.FindByID(ctx, order.UserID)
		if err != nil {
			return "", ""
		}
		return textutil.PlainText(firstNonEmpty(user.DisplayName, user.Email)), user.Email
	}
	if order.AnonymousUserID != "" {
		guest, err := n.anonymous.FindByID(ctx, order.AnonymousUserID)
		if err != nil {
			return "", ""
		}
		return textutil.PlainText(guest.Name), guest.Email
	}
	return "", ""
}

func (n *expiryNotifier) collaboratorEmail(ctx context.Context, collaboratorID string) string {
	if collaboratorID == "" {
		return ""
	}
	collaborator, err := n.collaborators.FindByID(ctx, collaboratorID)
	if err != nil {
		return ""
	}
	return collaborator.Email
}

func uniqueAddresses(addresses ...string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, address := range addresses {
		key := strings.ToLower(strings.TrimSpace(address))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(address))
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
