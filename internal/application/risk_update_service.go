package application

import (
	"context"

	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
	"github.com/turtacn/riskguard/pkg/utils"
)

// ApplyFeedback receives the verdict of an analyst or a downstream fraud system and
// adjusts the user's trust baseline accordingly.
// ApplyFeedback 接收分析人员或下游反欺诈系统的结论，并相应调整用户的信任基线。
//
// confirmed_fraud removes the assessment's device and nearest trusted location and flags
// the profile. false_positive trusts the device and clears the flag.
func (s *riskAssessmentService) ApplyFeedback(ctx context.Context, fb *models.RiskFeedback) error {
	if fb == nil {
		return errors.ErrInvalidRequest("feedback is required")
	}
	if err := utils.ValidateStruct(fb); err != nil {
		return err
	}

	record, err := s.assessments.FindByID(ctx, fb.AssessmentID)
	if err != nil {
		return err
	}
	if record.UserID != fb.UserID {
		return errors.ErrInvalidRequest("assessment does not belong to user").
			WithMetadata("assessment_id", fb.AssessmentID)
	}

	st := s.settings.Load()
	var loc *models.GeoLocation
	if fb.Verdict == models.VerdictConfirmedFraud && record.IPAddress != "" && s.geo != nil {
		if loc, err = s.geo.Locate(ctx, record.IPAddress); err != nil {
			s.logger.Warn(ctx, "Could not locate fraudulent assessment, trusted locations unchanged",
				logger.String("assessment_id", record.ID), logger.Error(err))
			loc = nil
		}
	}

	var removedDevice, removedLocation bool
	err = s.mutateProfile(ctx, fb.UserID, nil, false, func(p *models.RiskProfile) {
		removedDevice, removedLocation = false, false
		now := s.now().UTC()
		switch fb.Verdict {
		case models.VerdictConfirmedFraud:
			if record.DeviceFingerprint != "" {
				removedDevice = p.UntrustDevice(record.DeviceFingerprint)
			}
			if loc != nil {
				if i, _ := nearestLocation(p, loc.Latitude, loc.Longitude); i >= 0 {
					p.RemoveLocation(i)
					removedLocation = true
				}
			}
			p.Flagged = true
		case models.VerdictFalsePositive:
			if record.DeviceFingerprint != "" {
				p.TrustDevice(record.DeviceFingerprint, now, st.MaxTrustedDevices)
			}
			p.Flagged = false
		}
	})
	if err != nil {
		if !errors.IsNotFoundError(err) {
			s.logger.Error(ctx, "Failed to apply risk feedback", err,
				logger.String("user_id", fb.UserID), logger.String("assessment_id", fb.AssessmentID))
		}
		return err
	}

	s.metrics.RecordFeedback(string(fb.Verdict))
	source := fb.Source
	if source == "" {
		source = "unknown"
	}
	event := models.NewAuditEvent(constants.AuditEventFeedbackApplied, fb.UserID).
		WithAssessment(record).
		WithActor(ActorFromContext(ctx)).
		WithMetadata("verdict", string(fb.Verdict)).
		WithMetadata("source", source)
	s.logAudit(ctx, event)

	s.logger.Info(ctx, "Risk feedback applied",
		logger.String("user_id", fb.UserID),
		logger.String("assessment_id", fb.AssessmentID),
		logger.String("verdict", string(fb.Verdict)),
		logger.Bool("device_removed", removedDevice),
		logger.Bool("location_removed", removedLocation),
	)
	return nil
}
