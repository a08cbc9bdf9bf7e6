package data

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSMClient struct {
	pages []*ssm.GetParametersByPathOutput
	err   error
	paths []string
	calls int
}

func (f *fakeSSMClient) GetParametersByPath(ctx context.Context, input *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.paths = append(f.paths, aws.ToString(input.Path))
	if f.err != nil {
		return nil, f.err
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

func param(name, value string) types.Parameter {
	return types.Parameter{Name: aws.String(name), Value: aws.String(value)}
}

func TestSSMDao_GetParameters(t *testing.T) {
	t.Run("follows pagination under the default path", func(t *testing.T) {
		client := &fakeSSMClient{pages: []*ssm.GetParametersByPathOutput{
			{Parameters: []types.Parameter{param("/manicure/DATABASE_NAME", "salon")}, NextToken: aws.String("next")},
			{Parameters: []types.Parameter{param("/manicure/PHOTO_BUCKET", "photos")}},
		}}
		dao := &SSMDao{SSM: client, Logger: logrus.New()}

		params, err := dao.GetParameters(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "salon", params["/manicure/DATABASE_NAME"])
		assert.Equal(t, "photos", params["/manicure/PHOTO_BUCKET"])
		assert.Equal(t, 2, client.calls)
		assert.Equal(t, []string{"/manicure", "/manicure"}, client.paths)
	})

	t.Run("custom path", func(t *testing.T) {
		client := &fakeSSMClient{pages: []*ssm.GetParametersByPathOutput{{}}}
		dao := &SSMDao{SSM: client, Logger: logrus.New(), Path: "/manicure-staging"}

		params, err := dao.GetParameters(context.Background())

		require.NoError(t, err)
		assert.Empty(t, params)
		assert.Equal(t, []string{"/manicure-staging"}, client.paths)
	})

	t.Run("client error", func(t *testing.T) {
		dao := &SSMDao{SSM: &fakeSSMClient{err: errors.New("access denied")}, Logger: logrus.New()}

		_, err := dao.GetParameters(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "access denied")
	})
}
