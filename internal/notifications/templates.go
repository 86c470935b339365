package notifications

import (
	"fmt"

	"github.com/ariefcatur/go-commerce-saga/internal/events"
)

const signature = "Best regards,\nE-commerce Team\n"

func OrderConfirmation(ev events.OrderEvent) (subject, body string) {
	subject = fmt.Sprintf("Order Confirmation - #%s", orderRef(ev.OrderNumber, ev.OrderID))
	body = fmt.Sprintf(`Dear Customer,

Thank you for your order! Your order has been confirmed.

Order Details:
- Order Number: %s
- Total Amount: $%s
- Status: %s

We will notify you when your order ships.

Thank you for shopping with us!

`, orderRef(ev.OrderNumber, ev.OrderID), ev.TotalAmount.StringFixed(2), ev.StatusTag) + signature
	return subject, body
}

func PaymentConfirmation(ev events.PaymentEvent) (subject, body string) {
	ref := orderRef(ev.OrderNumber, ev.OrderID)
	var headline, status, next string
	switch ev.Status {
	case "SUCCESS":
		subject = fmt.Sprintf("Payment Confirmation - #%s", ref)
		headline = fmt.Sprintf("Your payment for order #%s has been successfully processed.", ref)
		status, next = "Paid", "Your order is now being processed and will be shipped soon."
	case "REFUNDED":
		subject = fmt.Sprintf("Refund Confirmation - #%s", ref)
		headline = fmt.Sprintf("Your payment for order #%s has been refunded.", ref)
		status, next = "Refunded", "The amount will be returned to your original payment method."
	default:
		subject = fmt.Sprintf("Payment Failed - #%s", ref)
		headline = fmt.Sprintf("We could not process your payment for order #%s.", ref)
		status, next = "Failed", "Please try again or use a different payment method."
	}
	body = fmt.Sprintf(`Dear Customer,

%s

Payment Details:
- Order Number: %s
- Transaction: %s
- Amount: $%s
- Status: %s

%s

`, headline, ref, ev.TransactionID, ev.Amount.StringFixed(2), status, next) + signature
	return subject, body
}

func ShippingUpdate(ev events.ShipmentEvent) (subject, body string) {
	ref := orderRef(ev.OrderNumber, ev.OrderID)
	subject = fmt.Sprintf("Shipping Update - Order #%s", ref)
	tracking := ""
	if ev.TrackingNumber != "" {
		tracking = fmt.Sprintf("Tracking: %s %s\n\n", ev.Carrier, ev.TrackingNumber)
	}
	body = fmt.Sprintf(`Dear Customer,

Your order #%s has been updated.

Current Status: SHIPPED

%sWe'll let you know when your order is out for delivery.

Thank you for your patience!

`, ref, tracking) + signature
	return subject, body
}

func orderRef(number, id string) string {
	if number != "" {
		return number
	}
	return id
}
