package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "uploaded/iris.csv", UploadKey("iris.csv"))
	assert.Equal(t, "uploaded/passwd", UploadKey("../../etc/passwd"))
	assert.Equal(t, "result/iris.csv_qwen_Report.pdf", ResultKey(ReportName("iris.csv", "qwen")))
	assert.Equal(t, "result/iris.csv_qwen_model_and_info.zip", ResultKey(ModelBundleName("iris.csv", "qwen")))
	assert.Equal(t, "logs/iris.csv_log.log", LogKey(LogName("iris.csv")))
	assert.Equal(t, "staging/job-1/report.pdf", StagingKey("job-1", "report.pdf"))
	assert.Equal(t, "result/sales.csv_report.pdf", ResultKey(ClusteringReportName("sales.csv")))
	assert.Equal(t, "result/sales.csv_results.csv", ResultKey(ClusteringResultsName("sales.csv")))
}

func TestResultKeysKeepDatasetForNamespacedModels(t *testing.T) {
	sales := ResultKey(ReportName("sales.csv", "openai-community/gpt2"))
	iris := ResultKey(ReportName("iris.csv", "openai-community/gpt2"))
	assert.Equal(t, "result/sales.csv_openai-community_gpt2_Report.pdf", sales)
	assert.Equal(t, "result/iris.csv_openai-community_gpt2_Report.pdf", iris)
	assert.NotEqual(t, sales, iris)

	assert.Equal(t, "result/iris.csv_Qwen_Qwen2-0.5B_model_and_info.zip",
		ResultKey(ModelBundleName("iris.csv", "Qwen/Qwen2-0.5B")))
	assert.Equal(t, "logs/my_data.csv_log.log", LogKey(LogName("my data.csv")))
	assert.Equal(t, "_", Sanitize(".."))
	assert.Equal(t, "_", Sanitize(""))
	assert.Equal(t, "staging/job-1/", StagingPrefixFor("job-1"))
}

func TestNewMinIOClientFromK8s(t *testing.T) {
	clientset := fake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "minio-secret", Namespace: "ml"},
		Data: map[string][]byte{
			"endpoint":  []byte("minio.ml.svc:9000"),
			"accesskey": []byte("access"),
			"secretkey": []byte("secret"),
		},
	})

	c, err := NewMinIOClientFromK8s(context.Background(), clientset, "ml", "minio-secret", MinIOConfig{Bucket: "ml-platform-service"})
	require.NoError(t, err)
	assert.Equal(t, "ml-platform-service", c.Bucket())
}

func TestNewMinIOClientFromK8sMissingFields(t *testing.T) {
	clientset := fake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "minio-secret", Namespace: "ml"},
		Data:       map[string][]byte{"endpoint": []byte("minio:9000")},
	})

	_, err := NewMinIOClientFromK8s(context.Background(), clientset, "ml", "minio-secret", MinIOConfig{Bucket: "b"})
	assert.ErrorContains(t, err, "missing required fields")

	_, err = NewMinIOClientFromK8s(context.Background(), clientset, "other", "minio-secret", MinIOConfig{Bucket: "b"})
	assert.Error(t, err)
}

func TestNewMinIOClientRequiresBucket(t *testing.T) {
	_, err := NewMinIOClient(MinIOConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
