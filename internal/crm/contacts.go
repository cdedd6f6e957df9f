package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mguest/inspectd/platform/apperr"
)

// phoneFilterType is the CRM's filter selector for phone equality searches.
const phoneFilterType = 4003

// ContactTemplate describes a contact template and its custom fields.
type ContactTemplate struct {
	ID           int64                 `json:"id"`
	Name         string                `json:"name"`
	CustomFields []TemplateCustomField `json:"customFields"`
}

// TemplateCustomField is one custom field declared by a contact template.
type TemplateCustomField struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
	Name  string `json:"name"`
}

// DisplayLabel returns the human label of the field.
func (f TemplateCustomField) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// ContactSummary is a search result row.
type ContactSummary struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Midname  string         `json:"midname"`
	Lastname string         `json:"lastname"`
	Phones   []ContactPhone `json:"phones"`
}

// ContactPhone is one phone entry on a contact.
type ContactPhone struct {
	Number string `json:"number"`
	Type   int    `json:"type"`
}

// ContactPayload is the write shape for contact creation and update.
type ContactPayload struct {
	Template        TemplateRef    `json:"template"`
	Lastname        string         `json:"lastname"`
	Name            string         `json:"name"`
	Midname         string         `json:"midname,omitempty"`
	Gender          string         `json:"gender,omitempty"`
	Address         string         `json:"address,omitempty"`
	BirthDate       *DateValue     `json:"birthDate,omitempty"`
	Phones          []ContactPhone `json:"phones"`
	CustomFieldData []FieldWrite   `json:"customFieldData,omitempty"`
	SourceObjectID  string         `json:"sourceObjectId,omitempty"`
	IsCompany       bool           `json:"isCompany"`
	IsDeleted       bool           `json:"isDeleted"`
	Telegram        string         `json:"telegram,omitempty"`
	TelegramID      string         `json:"telegramId,omitempty"`
}

// GetContactTemplate fetches the configured guest contact template,
// including its custom field declarations.
func (c *Client) GetContactTemplate(ctx context.Context, templateID int64) (*ContactTemplate, error) {
	var result struct {
		Templates []ContactTemplate `json:"templates"`
	}
	if err := c.call(ctx, http.MethodGet, "contact/templates", nil, &result); err != nil {
		return nil, err
	}
	for i := range result.Templates {
		if result.Templates[i].ID == templateID {
			return &result.Templates[i], nil
		}
	}
	return nil, apperr.NotFound(fmt.Sprintf("contact template %d not found", templateID)).WithOp("crm.contact/templates")
}

// SearchContactsByPhone returns contacts whose phone equals the given
// number.
func (c *Client) SearchContactsByPhone(ctx context.Context, phone string) ([]ContactSummary, error) {
	body := map[string]any{
		"offset":   0,
		"pageSize": 100,
		"fields":   "id,name,midname,lastname,phones",
		"filters": []map[string]any{
			{"type": phoneFilterType, "operator": "equal", "value": phone},
		},
	}
	var result struct {
		Contacts []ContactSummary `json:"contacts"`
	}
	if err := c.call(ctx, http.MethodPost, "contact/list", body, &result); err != nil {
		return nil, err
	}
	return result.Contacts, nil
}

// CreateContact creates a contact and returns its id.
func (c *Client) CreateContact(ctx context.Context, payload ContactPayload) (int64, error) {
	var result contactWriteResult
	if err := c.call(ctx, http.MethodPost, "contact/", payload, &result); err != nil {
		return 0, err
	}
	return result.contactID(), nil
}

// UpdateContact overwrites an existing contact's data.
func (c *Client) UpdateContact(ctx context.Context, contactID int64, payload ContactPayload) (int64, error) {
	path := "contact/" + url.PathEscape(strconv.FormatInt(contactID, 10))
	var result contactWriteResult
	if err := c.call(ctx, http.MethodPost, path, payload, &result); err != nil {
		return 0, err
	}
	if id := result.contactID(); id != 0 {
		return id, nil
	}
	return contactID, nil
}

type contactWriteResult struct {
	ID      int64 `json:"id"`
	Contact *struct {
		ID int64 `json:"id"`
	} `json:"contact"`
}

func (r contactWriteResult) contactID() int64 {
	if r.ID != 0 {
		return r.ID
	}
	if r.Contact != nil {
		return r.Contact.ID
	}
	return 0
}
