package upnp

import (
	"encoding/xml"
	"fmt"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

const DeviceType = "urn:schemas-upnp-org:device:MediaServer:1"

type SpecVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

var specVersion = SpecVersion{Major: 1, Minor: 0}

// SCPD is a service control protocol description.
type SCPD struct {
	XMLName        xml.Name        `xml:"urn:schemas-upnp-org:service-1-0 scpd"`
	SpecVersion    SpecVersion     `xml:"specVersion"`
	Actions        []Action        `xml:"actionList>action"`
	StateVariables []StateVariable `xml:"serviceStateTable>stateVariable"`
}

func (s SCPD) HasAction(name string) bool {
	for _, a := range s.Actions {
		if a.Name == name {
			return true
		}
	}
	return false
}

type Action struct {
	Name      string     `xml:"name"`
	Arguments []Argument `xml:"argumentList>argument,omitempty"`
}

type Argument struct {
	Name                 string `xml:"name"`
	Direction            string `xml:"direction"`
	RelatedStateVariable string `xml:"relatedStateVariable"`
}

func In(name, stateVar string) Argument {
	return Argument{Name: name, Direction: "in", RelatedStateVariable: stateVar}
}

func Out(name, stateVar string) Argument {
	return Argument{Name: name, Direction: "out", RelatedStateVariable: stateVar}
}

type StateVariable struct {
	SendEvents    string   `xml:"sendEvents,attr"`
	Name          string   `xml:"name"`
	DataType      string   `xml:"dataType"`
	DefaultValue  string   `xml:"defaultValue,omitempty"`
	AllowedValues []string `xml:"allowedValueList>allowedValue,omitempty"`
}

// Var declares a state variable that is not evented.
func Var(name, dataType string, allowed ...string) StateVariable {
	return StateVariable{SendEvents: "no", Name: name, DataType: dataType, AllowedValues: allowed}
}

// EventedVar declares a state variable control points may subscribe to.
func EventedVar(name, dataType string) StateVariable {
	return StateVariable{SendEvents: "yes", Name: name, DataType: dataType}
}

// DeviceInfo identifies this media server on the network.
type DeviceInfo struct {
	UDN              string
	FriendlyName     string
	Manufacturer     string
	ManufacturerURL  string
	ModelName        string
	ModelNumber      string
	ModelDescription string
}

// ServerString is the SERVER header value for HTTP and SSDP replies.
func (d DeviceInfo) ServerString() string {
	return fmt.Sprintf("%s/1.0 UPnP/1.0 DLNADOC/1.50 %s/%s", runtime.GOOS, d.ModelName, d.ModelNumber)
}

// DeriveUDN returns a name-based UUID so the device keeps its identity
// across restarts on the same host.
func DeriveUDN(hostname, friendlyName string) string {
	return "uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("dlnamedia://"+hostname+"/"+friendlyName)).String()
}

// NormalizeUDN adds the uuid: prefix when a configured UDN lacks it.
func NormalizeUDN(udn string) string {
	if udn == "" || strings.HasPrefix(udn, "uuid:") {
		return udn
	}
	return "uuid:" + udn
}

type serviceEntry struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

type deviceEntry struct {
	DeviceType       string         `xml:"deviceType"`
	DLNADoc          string         `xml:"dlna:X_DLNADOC"`
	FriendlyName     string         `xml:"friendlyName"`
	Manufacturer     string         `xml:"manufacturer"`
	ManufacturerURL  string         `xml:"manufacturerURL,omitempty"`
	ModelDescription string         `xml:"modelDescription,omitempty"`
	ModelName        string         `xml:"modelName"`
	ModelNumber      string         `xml:"modelNumber,omitempty"`
	UDN              string         `xml:"UDN"`
	Services         []serviceEntry `xml:"serviceList>service"`
}

type rootDescription struct {
	XMLName     xml.Name    `xml:"urn:schemas-upnp-org:device-1-0 root"`
	DLNANS      string      `xml:"xmlns:dlna,attr"`
	SpecVersion SpecVersion `xml:"specVersion"`
	Device      deviceEntry `xml:"device"`
}

func marshalDocument(v interface{}) ([]byte, error) {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// descriptionPath, controlPath and eventPath are the per-service URLs,
// relative to the device description.
func descriptionPath(name string) string { return "/" + name + "/description.xml" }
func controlPath(name string) string     { return "/" + name + "/control" }
func eventPath(name string) string       { return "/" + name + "/event" }

func marshalRootDescription(d DeviceInfo, services []Service) ([]byte, error) {
	root := rootDescription{
		DLNANS:      "urn:schemas-dlna-org:device-1-0",
		SpecVersion: specVersion,
		Device: deviceEntry{
			DeviceType:       DeviceType,
			DLNADoc:          "DMS-1.50",
			FriendlyName:     d.FriendlyName,
			Manufacturer:     d.Manufacturer,
			ManufacturerURL:  d.ManufacturerURL,
			ModelDescription: d.ModelDescription,
			ModelName:        d.ModelName,
			ModelNumber:      d.ModelNumber,
			UDN:              d.UDN,
		},
	}
	for _, s := range services {
		root.Device.Services = append(root.Device.Services, serviceEntry{
			ServiceType: s.Type(),
			ServiceID:   s.ID(),
			SCPDURL:     descriptionPath(s.Name()),
			ControlURL:  controlPath(s.Name()),
			EventSubURL: eventPath(s.Name()),
		})
	}
	return marshalDocument(root)
}

func marshalSCPD(s SCPD) ([]byte, error) {
	s.SpecVersion = specVersion
	return marshalDocument(s)
}
