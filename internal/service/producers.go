package service

import (
	"context"
	"fmt"
	"strconv"

	"policypal/internal/models"
)

// Producer helpers for the common notification scenarios. Collaborating
// modules call these instead of assembling CreateNotificationInput by hand.

func (s *NotificationService) NotifyPolicyCreated(ctx context.Context, userID, policyID, policyTitle string) error {
	_, err := s.CreateNotification(ctx, &CreateNotificationInput{
		UserID:   userID,
		Type:     models.TypePolicyCreated,
		Title:    "New Policy Created",
		Message:  fmt.Sprintf("Your policy %q has been created successfully.", policyTitle),
		Priority: models.PriorityMedium,
		Metadata: models.Metadata{
			"policyId":    policyID,
			"policyTitle": policyTitle,
		},
		PolicyID: policyID,
	})
	return err
}

func (s *NotificationService) NotifyPolicyExpiring(ctx context.Context, userID, policyID, policyTitle string, daysUntilExpiry int) error {
	_, err := s.CreateNotification(ctx, &CreateNotificationInput{
		UserID:   userID,
		Type:     models.TypePolicyExpiring,
		Title:    "Policy Expiring Soon",
		Message:  fmt.Sprintf("Your policy %q will expire in %d days.", policyTitle, daysUntilExpiry),
		Priority: models.PriorityHigh,
		Metadata: models.Metadata{
			"policyId":        policyID,
			"policyTitle":     policyTitle,
			"daysUntilExpiry": strconv.Itoa(daysUntilExpiry),
		},
		PolicyID: policyID,
	})
	return err
}

func (s *NotificationService) NotifyComplianceCompleted(ctx context.Context, userID, policyID string, complianceScore int) error {
	_, err := s.CreateNotification(ctx, &CreateNotificationInput{
		UserID:   userID,
		Type:     models.TypeComplianceCheckCompleted,
		Title:    "Compliance Check Completed",
		Message:  fmt.Sprintf("Compliance check completed with a score of %d%%.", complianceScore),
		Priority: models.PriorityMedium,
		Metadata: models.Metadata{
			"policyId":        policyID,
			"complianceScore": strconv.Itoa(complianceScore),
		},
		PolicyID: policyID,
	})
	return err
}
