// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask 描述一次异步摄取：载荷已存入 MinIO，消费者取回后交给摄取流程。
type IngestTask struct {
	ObjectName   string `json:"object_name"`
	ProjectID    string `json:"project_id"`
	SourceType   string `json:"source_type"`
	SourceName   string `json:"source_name"`
	ContentType  string `json:"content_type"`
	ForceRetrain bool   `json:"force_retrain"`
}

// Key 用于 Kafka 消息键和重试计数。
func (t IngestTask) Key() string {
	return t.ObjectName
}
