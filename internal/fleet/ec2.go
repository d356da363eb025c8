package fleet

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/edustream/classroom/internal/core"
)

var errNoInstance = errors.New("instance not found in reservation")

// EC2Provider implements core.FleetProvider on the AWS EC2 API.
type EC2Provider struct {
	client *ec2.Client
}

var _ core.FleetProvider = (*EC2Provider)(nil)

func NewEC2Provider(ctx context.Context, region string) (*EC2Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &EC2Provider{client: ec2.NewFromConfig(cfg)}, nil
}

func (p *EC2Provider) CreateInstance(ctx context.Context, spec core.InstanceSpec) (string, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags: []types.Tag{
				{Key: aws.String("Name"), Value: aws.String("classroom-" + spec.RoomID)},
				{Key: aws.String("RoomId"), Value: aws.String(spec.RoomID)},
			},
		}},
	}
	if spec.SubnetID != "" {
		// Explicit interface placement so the instance gets a public IP
		// even in subnets without auto-assign.
		input.NetworkInterfaces = []types.InstanceNetworkInterfaceSpecification{{
			DeviceIndex:              aws.Int32(0),
			AssociatePublicIpAddress: aws.Bool(true),
			SubnetId:                 aws.String(spec.SubnetID),
			Groups:                   []string{spec.SecurityGroup},
		}}
	} else {
		input.SecurityGroupIds = []string{spec.SecurityGroup}
	}

	out, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return "", err
	}
	if len(out.Instances) == 0 {
		return "", errNoInstance
	}
	return aws.ToString(out.Instances[0].InstanceId), nil
}

func (p *EC2Provider) WaitUntilRunning(ctx context.Context, instanceID string, timeout time.Duration) error {
	waiter := ec2.NewInstanceRunningWaiter(p.client)
	return waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, timeout)
}

func (p *EC2Provider) InstanceRunning(ctx context.Context, instanceID string) (bool, error) {
	out, err := p.client.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{instanceID},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return false, err
	}
	if len(out.InstanceStatuses) == 0 {
		return false, nil
	}
	return out.InstanceStatuses[0].InstanceState.Name == types.InstanceStateNameRunning, nil
}

func (p *EC2Provider) PublicIP(ctx context.Context, instanceID string) (string, error) {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", err
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return "", errNoInstance
	}
	return aws.ToString(out.Reservations[0].Instances[0].PublicIpAddress), nil
}

func (p *EC2Provider) TerminateInstance(ctx context.Context, instanceID string) error {
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	return err
}
