package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
)

// DocumentRefs is an ordered list of document references (object paths or URLs) stored as JSON text.
// Rows written by older clients may hold a bare string; Scan accepts both.
type DocumentRefs []string

func (DocumentRefs) GormDataType() string {
	return "text"
}

func (d DocumentRefs) Value() (driver.Value, error) {
	if d == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(d))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *DocumentRefs) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*d = DocumentRefs{}
	case []byte:
		*d = DocumentRefs(utils.ParseDocumentRefs(v))
	case string:
		*d = DocumentRefs(utils.ParseDocumentRefs([]byte(v)))
	default:
		return fmt.Errorf("unsupported document refs type %T", value)
	}
	return nil
}

// prepareRefs trims input and, with VERIFY_DOCUMENT_REFS, checks every object exists in storage.
// It runs before any transaction is opened.
func prepareRefs(ctx context.Context, refs []string) (DocumentRefs, error) {
	out := DocumentRefs{}
	for _, r := range refs {
		out = append(out, utils.ParseDocumentRefs([]byte(r))...)
	}
	if len(out) > 0 && config.VerifyDocumentRefs() {
		if err := utils.VerifyDocumentRefs(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
