package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
	ACTOR_ID_INSTALLATION = "installation"
)

type ActorRef actor.PID

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// Installation control

// InstallationRequest is routed by the master to the installation actor
// owning InstallationId.
type InstallationRequest interface {
	ActorRequest
	Installation() string
}

type InstallationRequestMixIn struct {
	ActorRequestMixIn
	InstallationId string
}

func (r InstallationRequestMixIn) Installation() string {
	return r.InstallationId
}

type GetStatusRequest struct {
	ActorRequestMixIn
}

type GetStatusResponse struct {
	ActorResponseMixIn
	Version       string
	Installations []InstallationStatus
}

type GetInstallationStatusRequest struct {
	InstallationRequestMixIn
}

type GetInstallationStatusResponse struct {
	ActorResponseMixIn
	Status InstallationStatus
}

type TriggerTickRequest struct {
	InstallationRequestMixIn
}

type TriggerTickResponse struct {
	ActorResponseMixIn
	Record *ExecutionRecord
}

type SetOptimizationEnabledRequest struct {
	InstallationRequestMixIn
	Enabled bool
}

type SetOptimizationEnabledResponse struct {
	ActorResponseMixIn
	Enabled bool
}

// MQTT

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Switches []GenericSwitch
	Buttons  []GenericButton
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}
