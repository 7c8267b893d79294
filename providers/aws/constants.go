package aws

// Resource type names.
const (
	TypeEKSCluster                = "aws:EKS.Cluster"
	TypeEKSAddon                  = "aws:EKS.Addon"
	TypeEKSIdentityProviderConfig = "aws:EKS.IdentityProviderConfig"
	TypeEventBridgeRule           = "aws:EventBridge.Rule"
	TypeEventBridgeTarget         = "aws:EventBridge.Target"
	TypeLogGroup                  = "aws:CloudWatch.LogGroup"
	TypeAlarm                     = "aws:CloudWatch.Alarm"
	TypeHostedZone                = "aws:Route53.HostedZone"
	TypeRecordSet                 = "aws:Route53.RecordSet"
)

const (
	DefaultRegion = "us-east-1"

	// IdentityProviderTypeOIDC is the only identity provider kind EKS supports.
	IdentityProviderTypeOIDC = "oidc"

	DefaultEventBus = "default"

	hostedZonePrefix = "/hostedzone/"
	changePrefix     = "/change/"
)

// Retention periods accepted by CloudWatch Logs.
var validRetentionDays = []int32{
	1, 3, 5, 7, 14, 30, 60, 90, 120, 150, 180, 365, 400, 545, 731,
	1096, 1827, 2192, 2557, 2922, 3288, 3653,
}
