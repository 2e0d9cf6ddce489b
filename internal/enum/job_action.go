package enum

type JobAction string

const (
	JobActionProvision JobAction = "provision"
	JobActionRenew     JobAction = "renew"
)

func (a JobAction) String() string {
	return string(a)
}
