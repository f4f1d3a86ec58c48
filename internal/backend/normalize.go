package backend

import "github.com/shaiso/Courier/internal/domain"

// Normalize приводит результат backend'а к согласованному виду.
//
// Гарантирует Confirmed ≤ Attempted ≤ task.Quantity и согласованность Class:
// успех с недобором становится partial, успех без подтверждений — retryable.
// Подтверждённые единицы не отбрасываются ни при каком классе.
func Normalize(desc Descriptor, task *domain.Task, out domain.DeliveryOutcome) domain.DeliveryOutcome {
	if out.Backend == "" {
		out.Backend = desc.Name
	}

	if out.Confirmed < 0 {
		out.Confirmed = 0
	}
	if out.Confirmed > task.Quantity {
		out.Confirmed = task.Quantity
	}
	if out.Attempted < out.Confirmed {
		out.Attempted = out.Confirmed
	}
	if out.Attempted > task.Quantity {
		out.Attempted = task.Quantity
	}

	switch out.Class {
	case domain.OutcomeSuccess, domain.OutcomePartial:
		switch {
		case out.Confirmed == 0:
			out.Class = domain.OutcomeRetryable
			if out.Code == "" {
				out.Code = domain.CodeNoConfirmed
			}
		case out.Confirmed < task.Quantity:
			out.Class = domain.OutcomePartial
		default:
			out.Class = domain.OutcomeSuccess
		}
	case domain.OutcomeRetryable, domain.OutcomeFatal:
	default:
		out.Class = domain.OutcomeRetryable
		if out.Code == "" {
			out.Code = domain.CodeBadResponse
		}
	}

	return out
}
