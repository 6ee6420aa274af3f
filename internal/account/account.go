// Package account drives the lifecycle of accounts through their tags on
// the organization service.
package account

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/sirupsen/logrus"
)

// OrganizationsAPI is the subset of the organization service used here.
type OrganizationsAPI interface {
	ListTagsForResource(ctx context.Context, params *organizations.ListTagsForResourceInput, optFns ...func(*organizations.Options)) (*organizations.ListTagsForResourceOutput, error)
	TagResource(ctx context.Context, params *organizations.TagResourceInput, optFns ...func(*organizations.Options)) (*organizations.TagResourceOutput, error)
	ListAccountsForParent(ctx context.Context, params *organizations.ListAccountsForParentInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsForParentOutput, error)
	ListParents(ctx context.Context, params *organizations.ListParentsInput, optFns ...func(*organizations.Options)) (*organizations.ListParentsOutput, error)
	DescribeAccount(ctx context.Context, params *organizations.DescribeAccountInput, optFns ...func(*organizations.Options)) (*organizations.DescribeAccountOutput, error)
}

// Item is the merged view of one account: its attributes on the
// organization service plus a full tag listing.
type Item struct {
	ID       string
	Arn      string
	Email    string
	Name     string
	IsActive bool
	Unit     string
	Tags     map[string]string
}

// Manager mutates and inspects account state. All provider calls go
// through the injected client; there is no process-wide session.
type Manager struct {
	client OrganizationsAPI
	logger *logrus.Logger
	live   bool
}

// NewManager wires a manager. live=false is the dry-run mode: intended tag
// mutations are logged and not performed.
func NewManager(client OrganizationsAPI, logger *logrus.Logger, live bool) *Manager {
	return &Manager{
		client: client,
		logger: logger,
		live:   live,
	}
}

// ValidateTags fails when the account misses a required tag or carries a
// malformed value. See ValidateTagValues for the checking order.
func (m *Manager) ValidateTags(ctx context.Context, id string) error {
	tags, err := m.ListTags(ctx, id)
	if err != nil {
		return err
	}
	return ValidateTagValues(id, tags)
}

// ListTags merges every page of tags into one mapping. Later pages win on
// key collision, which a live provider does not produce.
func (m *Manager) ListTags(ctx context.Context, id string) (map[string]string, error) {
	tags := map[string]string{}
	paginator := organizations.NewListTagsForResourcePaginator(m.client, &organizations.ListTagsForResourceInput{
		ResourceId: aws.String(id),
	})
	for paginator.HasMorePages() {
		m.logger.Debugf("Listing tags for account '%s'", id)
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tags for account '%s': %w", id, err)
		}
		for _, tag := range page.Tags {
			tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
	}
	return tags, nil
}

// Move tags the account with the target state. Exactly one tag mutation is
// issued, none at all under dry-run or when the target is not a member of
// the state enumeration.
func (m *Manager) Move(ctx context.Context, id string, state State) error {
	if !state.Valid() {
		return fmt.Errorf("%w: unexpected state '%s'", ErrInvalidState, state)
	}

	m.logger.Infof("Tagging account '%s' with state '%s'...", id, state)
	if !m.live {
		m.logger.Warn("Dry-run mode - account has not been tagged")
		return nil
	}

	_, err := m.client.TagResource(ctx, &organizations.TagResourceInput{
		ResourceId: aws.String(id),
		Tags: []types.Tag{
			{Key: aws.String(TagState), Value: aws.String(string(state))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to tag account '%s': %w", id, err)
	}
	m.logger.Info("Done")
	return nil
}

// ListAccounts enumerates account identifiers under one organizational
// unit. The sequence is lazy and finite, with a fresh pagination token per
// invocation; ordering across pages is provider-defined.
func (m *Manager) ListAccounts(ctx context.Context, parent string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		paginator := organizations.NewListAccountsForParentPaginator(m.client, &organizations.ListAccountsForParentInput{
			ParentId:   aws.String(parent),
			MaxResults: aws.Int32(50),
		})
		for paginator.HasMorePages() {
			m.logger.Debugf("Listing accounts in parent '%s'", parent)
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield("", fmt.Errorf("failed to list accounts in parent '%s': %w", parent, err))
				return
			}
			for _, item := range page.Accounts {
				if !yield(aws.ToString(item.Id), nil) {
					return
				}
			}
		}
	}
}

// Describe fetches the attributes and the full tag listing of one
// account. Provider errors, including unknown accounts, are propagated.
func (m *Manager) Describe(ctx context.Context, id string) (Item, error) {
	out, err := m.client.DescribeAccount(ctx, &organizations.DescribeAccountInput{
		AccountId: aws.String(id),
	})
	if err != nil {
		return Item{}, fmt.Errorf("failed to describe account '%s': %w", id, err)
	}

	item := Item{
		ID:       id,
		Arn:      aws.ToString(out.Account.Arn),
		Email:    aws.ToString(out.Account.Email),
		Name:     aws.ToString(out.Account.Name),
		IsActive: out.Account.Status == types.AccountStatusActive,
	}

	parents, err := m.client.ListParents(ctx, &organizations.ListParentsInput{
		ChildId: aws.String(id),
	})
	if err != nil {
		return Item{}, fmt.Errorf("failed to list parents of account '%s': %w", id, err)
	}
	if len(parents.Parents) > 0 {
		item.Unit = aws.ToString(parents.Parents[0].Id)
	}

	item.Tags, err = m.ListTags(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return item, nil
}
