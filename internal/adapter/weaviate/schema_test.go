package weaviate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	return m.ExistingClass != nil, nil
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func TestEnsureSchema_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	require.NoError(t, EnsureSchema(context.Background(), client, "Manuals"))
	require.NotNil(t, client.CreatedClass)

	assert.Equal(t, "Manuals", client.CreatedClass.Class)
	assert.Equal(t, "none", client.CreatedClass.Vectorizer)

	byName := map[string]*models.Property{}
	for _, p := range client.CreatedClass.Properties {
		byName[p.Name] = p
	}
	require.Contains(t, byName, "source")
	assert.Equal(t, "field", byName["source"].Tokenization)
	assert.Equal(t, []string{"int"}, byName["page"].DataType)
	assert.Contains(t, byName, "chunkId")
	assert.Contains(t, byName, "filePath")
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class: "Manuals",
			Properties: []*models.Property{
				{Name: "chunkId", DataType: []string{"text"}},
				{Name: "content", DataType: []string{"text"}},
				{Name: "source", DataType: []string{"text"}},
			},
		},
	}

	require.NoError(t, EnsureSchema(context.Background(), client, "Manuals"))
	assert.Nil(t, client.CreatedClass)

	var added []string
	for _, p := range client.AddedProperties {
		added = append(added, p.Name)
	}
	assert.ElementsMatch(t, []string{"page", "filePath"}, added)
}

func TestClassName(t *testing.T) {
	tests := map[string]string{
		"stm32_manual_embedding": "Stm32_manual_embedding",
		"Docs":                   "Docs",
		"my-docs.v2":             "My_docs_v2",
		"2024":                   "C2024",
		"":                       "C",
	}
	for in, want := range tests {
		assert.Equal(t, want, ClassName(in), in)
	}
}
