package data

import (
	"context"
	"fmt"
	"manicure/lib/constants"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/sirupsen/logrus"
)

// SSMRepository loads the deployment configuration
type SSMRepository interface {
	GetParameters(ctx context.Context) (map[string]string, error)
}

type SSMClientInterface interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSMDao reads every parameter below Path (constants.SSM_PARAMETER_PATH when empty)
type SSMDao struct {
	SSM    SSMClientInterface
	Logger *logrus.Logger
	Path   string
}

func (client *SSMDao) GetParameters(ctx context.Context) (map[string]string, error) {
	path := client.Path
	if path == "" {
		path = constants.SSM_PARAMETER_PATH
	}

	params := map[string]string{}
	input := &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	}

	for {
		output, err := client.SSM.GetParametersByPath(ctx, input)
		if err != nil {
			client.Logger.WithFields(logrus.Fields{
				"operation": "GetParameters",
				"path":      path,
				"error":     err.Error(),
			}).Error("Failed to read SSM parameters")
			return nil, fmt.Errorf("failed to read parameters under %s: %w", path, err)
		}

		for _, param := range output.Parameters {
			params[aws.ToString(param.Name)] = aws.ToString(param.Value)
		}

		// Last page
		if output.NextToken == nil {
			break
		}
		input.NextToken = output.NextToken
	}

	client.Logger.WithFields(logrus.Fields{
		"operation":   "GetParameters",
		"path":        path,
		"param_count": len(params),
	}).Debug("Loaded SSM parameters")

	return params, nil
}
