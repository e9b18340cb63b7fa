package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogPublisher writes facts to the log instead of a broker. It stands in for Pub/Sub in local
// environments where no topics are configured.
type LogPublisher struct {
	Logger *logrus.Logger
}

func (p LogPublisher) Publish(ctx context.Context, sink string, data []byte, attrs map[string]string) (string, error) {
	id := "local-" + uuid.NewString()
	if p.Logger != nil {
		fields := logrus.Fields{
			"field":      "LogPublisher",
			"sink":       sink,
			"message_id": id,
		}
		for k, v := range attrs {
			fields[k] = v
		}
		p.Logger.WithFields(fields).Info(string(data))
	}
	return id, nil
}
