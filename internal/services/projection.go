package services

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
)

// OrderParties carries the related records an order view may expose.
type OrderParties struct {
	User          *User
	Collaborator  *Collaborator
	AnonymousUser *domain.AnonymousUser
}

// OrderView is the role-filtered representation of an order.
type OrderView struct {
	ID               string            `json:"id"`
	Status           OrderStatus       `json:"status"`
	Total            decimal.Decimal   `json:"total"`
	OrderDate        time.Time         `json:"orderDate"`
	StartDate        *time.Time        `json:"startDate,omitempty"`
	EndDate          *time.Time        `json:"endDate,omitempty"`
	ReferralCodeUsed string            `json:"referralCodeUsed,omitempty"`
	User             *PartyView        `json:"user,omitempty"`
	Collaborator     *CollaboratorView `json:"collaborator,omitempty"`
	AnonymousUser    *PartyView        `json:"anonymousUser,omitempty"`
	Items            []OrderItemView   `json:"items"`
}

// PartyView is the basic contact section for users and guests.
type PartyView struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phoneNumber,omitempty"`
}

// CollaboratorView is the basic section for the assigned collaborator.
type CollaboratorView struct {
	ID                 string `json:"id,omitempty"`
	Email              string `json:"email,omitempty"`
	ReferralCode       string `json:"referralCode"`
	TotalOrdersHandled int    `json:"totalOrdersHandled"`
}

// OrderItemView is one order line.
type OrderItemView struct {
	ID          string          `json:"id,omitempty"`
	ProductID   string          `json:"productId,omitempty"`
	ProductCode string          `json:"productCode"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	ExpiryDate  time.Time       `json:"expiryDate"`
}

// ProjectOrder filters the order and its parties for the role. Admins see everything;
// collaborators see every section without identifiers; users lose the collaborator and guest
// sections; guests and unknown roles lose the user and collaborator sections. Item and
// product identifiers are only visible to admins.
func ProjectOrder(order Order, parties OrderParties, role domain.Role) OrderView {
	view := OrderView{
		ID:               order.ID,
		Status:           order.Status,
		Total:            order.Total,
		OrderDate:        order.OrderDate,
		StartDate:        order.StartDate,
		EndDate:          order.EndDate,
		ReferralCodeUsed: order.ReferralCodeUsed,
		Items:            make([]OrderItemView, 0, len(order.Items)),
	}

	user := userSection(order, parties.User)
	collaborator := collaboratorSection(order, parties.Collaborator)
	guest := guestSection(order, parties.AnonymousUser)

	switch role {
	case domain.RoleAdmin:
		view.User, view.Collaborator, view.AnonymousUser = user, collaborator, guest
	case domain.RoleCollaborator:
		view.User = blankParty(user)
		view.AnonymousUser = blankParty(guest)
		if collaborator != nil {
			c := *collaborator
			c.ID = ""
			view.Collaborator = &c
		}
	case domain.RoleUser:
		view.User = user
	default:
		view.AnonymousUser = guest
	}

	for _, item := range order.Items {
		line := OrderItemView{
			ProductCode: item.ProductCode,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			ExpiryDate:  item.ExpiryDate,
		}
		if role == domain.RoleAdmin {
			line.ID = item.ID
			line.ProductID = item.ProductID
		}
		view.Items = append(view.Items, line)
	}
	return view
}

func userSection(order Order, user *User) *PartyView {
	if order.UserID == "" {
		return nil
	}
	view := &PartyView{ID: order.UserID}
	if user != nil {
		view.Name = user.DisplayName
		view.Email = user.Email
		view.Phone = user.PhoneNumber
	}
	return view
}

func guestSection(order Order, guest *domain.AnonymousUser) *PartyView {
	if order.AnonymousUserID == "" {
		return nil
	}
	view := &PartyView{ID: order.AnonymousUserID}
	if guest != nil {
		view.Name = guest.Name
		view.Email = guest.Email
		view.Phone = guest.PhoneNumber
	}
	return view
}

func collaboratorSection(order Order, collaborator *Collaborator) *CollaboratorView {
	if order.CollaboratorID == "" {
		return nil
	}
	view := &CollaboratorView{ID: order.CollaboratorID}
	if collaborator != nil {
		view.Email = collaborator.Email
		view.ReferralCode = collaborator.ReferralCode
		view.TotalOrdersHandled = collaborator.TotalOrdersHandled
	}
	return view
}

func blankParty(p *PartyView) *PartyView {
	if p == nil {
		return nil
	}
	out := *p
	out.ID = ""
	return &out
}

// SurveyParties carries the related records a survey view may expose.
type SurveyParties struct {
	User         *User
	Collaborator *Collaborator
}

// SurveyView is the role-filtered representation of a survey.
type SurveyView struct {
	ID           string                  `json:"id"`
	Status       OrderStatus             `json:"status"`
	Question     string                  `json:"question"`
	Response     string                  `json:"response,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
	RespondedAt  *time.Time              `json:"respondedAt,omitempty"`
	User         *PartyView              `json:"user,omitempty"`
	Collaborator *SurveyCollaboratorView `json:"collaborator,omitempty"`
}

// SurveyCollaboratorView is the basic section for the collaborator handling a survey.
type SurveyCollaboratorView struct {
	ID                  string `json:"id,omitempty"`
	Email               string `json:"email,omitempty"`
	TotalSurveysHandled int    `json:"totalSurveysHandled"`
}

// ProjectSurvey filters the survey parties for the role. Admins see identifiers; every other
// role sees the same sections with identifiers removed.
func ProjectSurvey(survey Survey, parties SurveyParties, role domain.Role) SurveyView {
	view := SurveyView{
		ID:          survey.ID,
		Status:      survey.Status,
		Question:    survey.Question,
		Response:    survey.Response,
		CreatedAt:   survey.CreatedAt,
		RespondedAt: survey.RespondedAt,
	}
	if survey.UserID != "" {
		view.User = &PartyView{ID: survey.UserID}
		if parties.User != nil {
			view.User.Name = parties.User.DisplayName
			view.User.Email = parties.User.Email
			view.User.Phone = parties.User.PhoneNumber
		}
	}
	if survey.CollaboratorID != "" {
		view.Collaborator = &SurveyCollaboratorView{ID: survey.CollaboratorID}
		if parties.Collaborator != nil {
			view.Collaborator.Email = parties.Collaborator.Email
			view.Collaborator.TotalSurveysHandled = parties.Collaborator.TotalSurveysHandled
		}
	}
	if role != domain.RoleAdmin {
		view.User = blankParty(view.User)
		if view.Collaborator != nil {
			view.Collaborator.ID = ""
		}
	}
	return view
}
