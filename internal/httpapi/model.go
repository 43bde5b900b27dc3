package httpapi

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"expirybot/internal/storage"
)

const maxMessageRunes = 4096

var phonePattern = regexp.MustCompile(`^[+()\-.\s\d]{8,24}$`)

type SendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (r *SendMessageRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Phone, validation.Required, validation.Match(phonePattern)),
		validation.Field(&r.Message, validation.Required, validation.RuneLength(1, maxMessageRunes)),
	)
}

type SendTestRequest struct {
	Phone string `json:"phone"`
}

func (r *SendTestRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Phone, validation.Required, validation.Match(phonePattern)),
	)
}

type ListQuery struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Phone    string `form:"phone"`
	Category string `form:"category"`
	Status   string `form:"status"`
}

func (q *ListQuery) Validate() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.Page, validation.Min(0)),
		validation.Field(&q.PageSize, validation.Min(0), validation.Max(500)),
		validation.Field(&q.Category, validation.In(
			string(storage.CategoryVendor), string(storage.CategoryClient), string(storage.CategoryAdhoc))),
		validation.Field(&q.Status, validation.In(
			string(storage.StatusPending), string(storage.StatusSent), string(storage.StatusFailed))),
	)
}

func (q ListQuery) toQuery() storage.Query {
	return storage.Query{
		Page:     q.Page,
		PageSize: q.PageSize,
		Phone:    q.Phone,
		Category: storage.Category(q.Category),
		Status:   storage.Status(q.Status),
	}
}
