// Package checkout initiates hosted payments and drives refunds and voids
// against the remote gateways on behalf of the billing system.
package checkout

import (
	"context"
	"errors"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/billing-gateway/internal/events"
	"github.com/noah-isme/billing-gateway/internal/gateway"
	"github.com/noah-isme/billing-gateway/internal/invoiceref"
	"github.com/noah-isme/billing-gateway/internal/obs"
)

// ErrUnknownGateway is returned when the requested gateway is not registered.
var ErrUnknownGateway = errors.New("checkout: unknown gateway")

// InvoiceInput is one invoice the payment applies to.
type InvoiceInput struct {
	ID     string `json:"id" validate:"required"`
	Amount string `json:"amount" validate:"required"`
}

// ContactInput carries the paying party supplied by the billing system.
type ContactInput struct {
	ClientID  string `json:"clientId" validate:"required"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email" validate:"omitempty,email"`
	Company   string `json:"company"`
	Address1  string `json:"address1"`
	City      string `json:"city"`
	State     string `json:"state"`
	Country   string `json:"country"`
	Zip       string `json:"zip"`
}

// RecurInput is an optional recurrence hint.
type RecurInput struct {
	Amount string `json:"amount"`
	Term   int    `json:"term"`
	Period string `json:"period"`
}

// LinkInput is the payment-link request payload.
type LinkInput struct {
	Gateway     string         `json:"gateway" validate:"required"`
	Contact     ContactInput   `json:"contact" validate:"required"`
	Amount      string         `json:"amount" validate:"required"`
	Currency    string         `json:"currency" validate:"required,len=3"`
	Invoices    []InvoiceInput `json:"invoices" validate:"required,min=1,dive"`
	Description string         `json:"description"`
	Recur       *RecurInput    `json:"recur"`
}

// LinkOutput is the hosted-payment redirect handed back to the frontend.
type LinkOutput struct {
	Gateway string `json:"gateway"`
	OrderID string `json:"orderId,omitempty"`
	URL     string `json:"url"`
}

// RefundInput identifies a settled payment to refund or void.
type RefundInput struct {
	ReferenceID   string `json:"referenceId" validate:"required"`
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	Notes         string `json:"notes"`
}

// RefundOutput reports the outcome of a refund or void.
type RefundOutput struct {
	Gateway       string `json:"gateway"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
}

// StatusUpdater moves recorded transactions to a new status.
type StatusUpdater interface {
	UpdateTransactionStatus(ctx context.Context, gatewayName, transactionID string, status gateway.Status) error
}

// Service orchestrates the outbound payment operations.
type Service struct {
	Gateways        gateway.Registry
	CallbackBaseURL string
	Store           StatusUpdater
	Events          *events.Bus
	Validate        *validator.Validate
	Logger          zerolog.Logger
}

// BuildLink validates the request, rounds the amounts per currency rule and
// asks the gateway for a hosted-payment redirect.
func (s *Service) BuildLink(ctx context.Context, in LinkInput) (LinkOutput, error) {
	if err := s.validate(in); err != nil {
		return LinkOutput{}, err
	}
	name := strings.ToLower(strings.TrimSpace(in.Gateway))
	gw, ok := s.Gateways.Lookup(name)
	if !ok {
		return LinkOutput{}, ErrUnknownGateway
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	amount, err := parseAmount(in.Amount)
	if err != nil {
		return LinkOutput{}, err
	}
	invoices := make([]invoiceref.Invoice, 0, len(in.Invoices))
	for _, inv := range in.Invoices {
		parsed, err := parseAmount(inv.Amount)
		if err != nil {
			return LinkOutput{}, err
		}
		invoices = append(invoices, invoiceref.Invoice{
			ID:     inv.ID,
			Amount: gateway.RoundAmount(parsed, currency),
		})
	}

	req := gateway.ChargeRequest{
		Contact: gateway.Contact{
			ClientID:  in.Contact.ClientID,
			FirstName: in.Contact.FirstName,
			LastName:  in.Contact.LastName,
			Email:     in.Contact.Email,
			Company:   in.Contact.Company,
			Address1:  in.Contact.Address1,
			City:      in.Contact.City,
			State:     in.Contact.State,
			Country:   in.Contact.Country,
			Zip:       in.Contact.Zip,
		},
		Amount:      gateway.RoundAmount(amount, currency),
		Currency:    currency,
		Invoices:    invoices,
		Description: in.Description,
		ReturnURL:   s.CallbackBaseURL + "/api/v1/payments/return/" + name,
	}
	if in.Recur != nil {
		recurAmount, err := parseAmount(in.Recur.Amount)
		if err != nil {
			return LinkOutput{}, err
		}
		req.Recur = &gateway.Recurrence{
			Amount: gateway.RoundAmount(recurAmount, currency),
			Term:   in.Recur.Term,
			Period: in.Recur.Period,
		}
	}

	link, err := gw.BuildPayment(ctx, req)
	if err != nil {
		s.countLink(name, "error")
		return LinkOutput{}, err
	}
	s.countLink(name, "ok")
	return LinkOutput{Gateway: name, OrderID: link.OrderID, URL: link.URL}, nil
}

// Refund refunds a settled payment, fully or partially.
func (s *Service) Refund(ctx context.Context, name string, in RefundInput) (RefundOutput, error) {
	return s.reverse(ctx, name, in, "refund")
}

// Void cancels an authorized but unsettled payment.
func (s *Service) Void(ctx context.Context, name string, in RefundInput) (RefundOutput, error) {
	return s.reverse(ctx, name, in, "void")
}

func (s *Service) reverse(ctx context.Context, name string, in RefundInput, operation string) (RefundOutput, error) {
	if err := s.validate(in); err != nil {
		return RefundOutput{}, err
	}
	name = strings.ToLower(strings.TrimSpace(name))
	gw, ok := s.Gateways.Lookup(name)
	if !ok {
		return RefundOutput{}, ErrUnknownGateway
	}

	req := gateway.RefundRequest{
		ReferenceID:   in.ReferenceID,
		TransactionID: in.TransactionID,
		Notes:         in.Notes,
	}
	if strings.TrimSpace(in.Amount) != "" {
		amount, err := parseAmount(in.Amount)
		if err != nil {
			return RefundOutput{}, err
		}
		req.Amount = amount
	}

	var (
		result gateway.RefundResult
		err    error
	)
	if operation == "void" {
		result, err = gw.Void(ctx, req)
	} else {
		result, err = gw.Refund(ctx, req)
	}
	if err != nil {
		s.countRefund(name, operation, "error")
		return RefundOutput{}, err
	}
	s.countRefund(name, operation, "ok")

	if s.Store != nil && result.TransactionID != "" {
		if err := s.Store.UpdateTransactionStatus(ctx, name, result.TransactionID, result.Status); err != nil {
			s.Logger.Warn().Err(err).
				Str("gateway", name).
				Str("transaction_id", result.TransactionID).
				Msg("status update after reversal failed")
		}
	}
	if s.Events != nil {
		tx := gateway.Transaction{
			Status:        result.Status,
			TransactionID: result.TransactionID,
			ReferenceID:   in.ReferenceID,
		}
		if err := s.Events.Emit(ctx, events.TopicForStatus(result.Status), name, tx); err != nil {
			s.Logger.Warn().Err(err).Str("gateway", name).Msg("event dispatch failed")
		}
	}
	return RefundOutput{Gateway: name, Status: string(result.Status), TransactionID: result.TransactionID}, nil
}

func (s *Service) validate(v any) error {
	if s.Validate == nil {
		return nil
	}
	return s.Validate.Struct(v)
}

func (s *Service) countLink(name, result string) {
	if obs.PaymentLinkTotal != nil {
		obs.PaymentLinkTotal.WithLabelValues(name, result).Inc()
	}
}

func (s *Service) countRefund(name, operation, result string) {
	if obs.RefundTotal != nil {
		obs.RefundTotal.WithLabelValues(name, operation, result).Inc()
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, errors.New("checkout: invalid amount")
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, errors.New("checkout: negative amount")
	}
	return amount, nil
}
