package utils

import (
	"context"
	"errors"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GetGCSClient prefers ADC; GCS_CREDENTIALS_JSON overrides it (local runs).
func GetGCSClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// objectNameFromRef accepts "gs://bucket/path", "https://storage.googleapis.com/bucket/path" or a bare path.
func objectNameFromRef(bucket string, ref string) string {
	ref = strings.TrimSpace(ref)
	for _, prefix := range []string{"gs://" + bucket + "/", "https://storage.googleapis.com/" + bucket + "/"} {
		if strings.HasPrefix(ref, prefix) {
			return strings.TrimPrefix(ref, prefix)
		}
	}
	return strings.TrimPrefix(ref, "/")
}

func ObjectExistsInGCS(ctx context.Context, client *storage.Client, bucket string, objectName string) (bool, error) {
	_, err := client.Bucket(bucket).Object(objectName).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, err
}

// VerifyDocumentRefs fails with a Validation error naming the first missing object in GCS_BUCKET.
func VerifyDocumentRefs(ctx context.Context, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucket == "" {
		return errors.New("GCS_BUCKET is required")
	}
	client, err := GetGCSClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	for _, ref := range refs {
		ok, err := ObjectExistsInGCS(ctx, client, bucket, objectNameFromRef(bucket, ref))
		if err != nil {
			return err
		}
		if !ok {
			return NewValidationError("document not found: %s", ref)
		}
	}
	return nil
}
